package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/taskhive/taskhive/internal/account"
	"github.com/taskhive/taskhive/internal/crypt"
	"github.com/taskhive/taskhive/internal/token"
)

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	TenantName  string `json:"tenant_name"`
	Phone       string `json:"phone,omitempty"`
}

type registerResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	token.Pair
}

// handleRegister creates the account and logs it straight in; the response
// carries the first access/refresh pair.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	acct, err := s.accounts.Register(r.Context(), account.RegisterInput{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
		TenantName:  body.TenantName,
		Phone:       body.Phone,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pair, err := s.engine.Issue(r.Context(), acct)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		ID:       acct.ID,
		Email:    acct.Email,
		TenantID: acct.TenantID,
		Role:     string(acct.Role),
		Pair:     pair,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type challengeResponse struct {
	TwoFactorRequired bool   `json:"two_factor_required"`
	ChallengeToken    string `json:"challenge_token"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	acct, err := s.accounts.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// Enabled 2FA suspends the login: the password alone buys only a
	// short-lived challenge token, never an access token.
	if acct.TwoFactorEnabled {
		challenge, err := s.twoFactor.BeginChallenge(r.Context(), acct, s.client(r))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, challengeResponse{
			TwoFactorRequired: true,
			ChallengeToken:    challenge,
		})
		return
	}

	pair, err := s.engine.Issue(r.Context(), acct)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	pair, err := s.engine.Refresh(r.Context(), strings.TrimSpace(body.RefreshToken))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	claims := ClaimsFrom(r.Context())
	if err := s.engine.Logout(r.Context(), strings.TrimSpace(body.RefreshToken), claims.Subject); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	revoked, err := s.engine.RevokeAll(r.Context(), claims.Subject)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"sessions_revoked": revoked})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	sessions, err := s.engine.ActiveSessions(r.Context(), claims.Subject)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "ok"}
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]string{"status": "degraded"}
		}
	}
	writeJSON(w, status, body)
}

// handleCleanup deletes refresh rows past retention. Invoked by an external
// scheduler authenticated with the shared cron secret.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if s.cronSecret == "" ||
		!crypt.ConstantTimeEqual([]byte(r.Header.Get("Authorization")), []byte("Bearer "+s.cronSecret)) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	cutoff := time.Now().UTC().Add(-s.retention)
	purged, err := s.refresh.PurgeStale(r.Context(), cutoff, 500)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	s.log.Info("refresh_tokens_purged", "count", purged)
	writeJSON(w, http.StatusOK, map[string]int64{"purged": purged})
}
