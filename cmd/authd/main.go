// Command authd runs the credential and session service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskhive/taskhive/internal/account"
	"github.com/taskhive/taskhive/internal/audit"
	"github.com/taskhive/taskhive/internal/config"
	"github.com/taskhive/taskhive/internal/crypt"
	"github.com/taskhive/taskhive/internal/httpapi"
	"github.com/taskhive/taskhive/internal/lock"
	"github.com/taskhive/taskhive/internal/notify"
	"github.com/taskhive/taskhive/internal/observability"
	"github.com/taskhive/taskhive/internal/store/postgres"
	"github.com/taskhive/taskhive/internal/token"
	"github.com/taskhive/taskhive/internal/twofactor"
)

func main() {
	if err := run(); err != nil {
		os.Stderr.WriteString("authd: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := observability.NewLogger(cfg.LogLevel, cfg.Env)

	flushSentry, err := observability.InitSentry(cfg.SentryDSN, cfg.Env)
	if err != nil {
		return err
	}
	defer flushSentry()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := postgres.Migrate(db); err != nil {
		return err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return err
	}

	cipher, err := crypt.New(cfg.EncryptionKey, cfg.DeterministicKey)
	if err != nil {
		return err
	}

	jwtManager, err := token.NewJWTManager(token.JWTConfig{
		SigningKey:   cfg.JWTSigningKey,
		Issuer:       cfg.Issuer,
		AccessTTL:    cfg.AccessTTL,
		RefreshTTL:   cfg.RefreshTTL,
		ChallengeTTL: cfg.ChallengeTTL,
	})
	if err != nil {
		return err
	}

	recorder := audit.NewRecorder(audit.Config{BufferSize: 256, DropIfFull: true}, audit.NewJSONWriterSink(os.Stdout))
	defer recorder.Close()

	notifier := notify.NewAsync(log, 0)
	defer notifier.Close()

	accountRepo := postgres.NewAccountRepo(db)
	refreshRepo := postgres.NewRefreshTokenRepo(db)
	locks := lock.NewRedisLock(redisClient, "authd:lock:")

	accounts := account.NewService(accountRepo, cipher, recorder, notifier, account.Config{
		LockoutThreshold: cfg.LockoutThreshold,
		LockoutDuration:  cfg.LockoutDuration,
	})
	engine := token.NewEngine(jwtManager, refreshRepo, accountRepo, locks, recorder, notifier, token.EngineConfig{
		SessionCap: cfg.SessionCap,
		LockTTL:    cfg.RefreshLockTTL,
	})
	twoFactor := twofactor.NewService(accountRepo, accounts, cipher, engine, jwtManager, recorder, notifier, twofactor.Config{
		Issuer:           cfg.Issuer,
		Skew:             cfg.TOTPSkew,
		LockoutThreshold: cfg.LockoutThreshold,
		LockoutDuration:  cfg.TwoFactorLockout,
	})

	api := httpapi.NewServer(log, accounts, engine, twoFactor, jwtManager, refreshRepo, db, httpapi.Options{
		CronSecret: os.Getenv("CRON_SECRET"),
	})

	handler := observability.Recover(log, observability.RequestLogging(log, api.Router()))
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
