package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"billing/internal/backend"
	"billing/internal/billing"
	"billing/internal/cli"
	apphttp "billing/internal/http"
	"billing/internal/log"
	"billing/internal/session"
)

const (
	shutdownTimeout        = 30 * time.Second
	sessionCleanupInterval = 10 * time.Minute
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, log.ComponentApp)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration",
			log.FieldErrorType, log.ErrorTypeConfiguration,
			log.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).Create(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err)
		os.Exit(1)
	}

	sessions := session.NewManager(res.Sessions, res.Identity, session.Config{
		TTL:    cfg.SessionTTL,
		Secure: cfg.CookieSecure,
	}, logger)
	sessions.StartCleanup(sessionCleanupInterval)

	client := billing.NewClient(cfg.BillingAPIURL, nil,
		billing.WithTimeout(cfg.BillingAPITimeout),
		billing.WithLogger(logger))

	checks := make([]apphttp.Check, 0, len(res.Checks))
	for _, c := range res.Checks {
		checks = append(checks, apphttp.Check{Name: c.Name, Fn: c.Fn})
	}

	srv := apphttp.NewServer(apphttp.Config{
		Addr:               cfg.Addr(),
		CacheTTL:           cfg.CacheTTL,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		ForceHSTS:          cfg.CookieSecure,
		TrustedProxies:     cfg.TrustedProxies,
	}, apphttp.Deps{
		Billing:  client,
		Identity: res.Identity,
		Sessions: sessions,
		Events:   res.Events,
		History:  res.DB,
		Checks:   checks,
		Logger:   logger,
	})

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		sessions.Stop()
		if err := res.Close(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	logger.Info("Starting billing server",
		"addr", cfg.Addr(),
		"billing_api", cfg.BillingAPIURL,
		"identity", cfg.IdentityBackend,
		"sessions", cfg.SessionBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "addr", cfg.Addr())
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
