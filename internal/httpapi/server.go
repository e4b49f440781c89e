package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/taskhive/taskhive/internal/account"
	"github.com/taskhive/taskhive/internal/store"
	"github.com/taskhive/taskhive/internal/token"
	"github.com/taskhive/taskhive/internal/twofactor"
)

// Pinger is the health-check surface of the database handle.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server wires the credential services into HTTP routes.
type Server struct {
	log       *slog.Logger
	accounts  *account.Service
	engine    *token.Engine
	twoFactor *twofactor.Service
	jwt       *token.JWTManager
	refresh   store.RefreshTokenRepository
	db        Pinger

	// cronSecret gates the maintenance endpoint; empty disables it.
	cronSecret string
	// retention is how long expired and revoked refresh rows are kept
	// before cleanup deletes them.
	retention time.Duration
}

type Options struct {
	CronSecret string
	Retention  time.Duration
}

func NewServer(
	log *slog.Logger,
	accounts *account.Service,
	engine *token.Engine,
	twoFactor *twofactor.Service,
	jwtManager *token.JWTManager,
	refresh store.RefreshTokenRepository,
	db Pinger,
	opts Options,
) *Server {
	if opts.Retention <= 0 {
		opts.Retention = 14 * 24 * time.Hour
	}
	return &Server{
		log:        log,
		accounts:   accounts,
		engine:     engine,
		twoFactor:  twoFactor,
		jwt:        jwtManager,
		refresh:    refresh,
		db:         db,
		cronSecret: opts.CronSecret,
		retention:  opts.Retention,
	}
}

// Router builds the route table. Callers wrap it with the logging and
// recovery middleware.
func (s *Server) Router() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /auth/logout", s.RequireAuth(s.handleLogout))
	mux.HandleFunc("POST /auth/logout-all", s.RequireAuth(s.handleLogoutAll))
	mux.HandleFunc("GET /auth/sessions", s.RequireAuth(s.handleSessions))

	mux.HandleFunc("POST /auth/2fa/generate", s.RequireAuth(s.handleTwoFactorGenerate))
	mux.HandleFunc("POST /auth/2fa/enable", s.RequireAuth(s.handleTwoFactorEnable))
	mux.HandleFunc("POST /auth/2fa/verify", s.handleTwoFactorVerify)
	mux.HandleFunc("POST /auth/2fa/disable", s.RequireAuth(s.handleTwoFactorDisable))
	mux.HandleFunc("POST /auth/2fa/backup-codes", s.RequireAuth(s.handleBackupCodes))
	mux.HandleFunc("GET /auth/2fa/status", s.RequireAuth(s.handleTwoFactorStatus))

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /internal/maintenance/cleanup", s.handleCleanup)

	return mux
}

func (s *Server) client(r *http.Request) twofactor.Client {
	return twofactor.Client{IP: clientIP(r), UserAgent: r.UserAgent()}
}
