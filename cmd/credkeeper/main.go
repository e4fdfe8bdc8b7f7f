package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	fileadapter "github.com/credkeeper/credkeeper/internal/adapter/driven/file"
	oauthadapter "github.com/credkeeper/credkeeper/internal/adapter/driven/oauth"
	httphandler "github.com/credkeeper/credkeeper/internal/adapter/driving/http"
	"github.com/credkeeper/credkeeper/internal/application"
	"github.com/credkeeper/credkeeper/internal/config"
	"github.com/credkeeper/credkeeper/internal/keyring"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"token_path", cfg.TokenPath,
		"refresh_interval", cfg.RefreshInterval,
		"refresh_buffer", cfg.RefreshBuffer,
		"current_key_version", cfg.CurrentKeyVersion,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Build the key registry from configured secrets. Keys are wiped on
	// exit, not left to the garbage collector.
	auditLog := fileadapter.NewAuditLog(cfg.AuditLogPath)
	keys, err := keyring.NewFromConfig(ctx, cfg, auditLog, slog.Default())
	if err != nil {
		return err
	}
	defer keys.Clear()
	slog.Info("key registry ready", "versions", keys.Versions(), "current", keys.CurrentVersion())

	// 4. Wire adapters.
	tokenStore := fileadapter.NewTokenStore(cfg.TokenPath, keys, auditLog, slog.Default())
	oauthClient := oauthadapter.NewClient(cfg.OAuth)

	// 5. Create services.
	authSvc := application.NewAuthService(tokenStore, oauthClient, auditLog, slog.Default(), application.AuthOptions{
		RefreshInterval: cfg.RefreshInterval,
		RefreshBuffer:   cfg.RefreshBuffer,
		MaxRetries:      cfg.MaxRetries,
		RetryDelay:      cfg.RetryDelay,
	})
	healthSvc := application.NewHealthService(tokenStore, cfg.RefreshBuffer)

	// 6. Load the persisted credential and start the proactive-refresh
	// timer. The timer runs regardless of the initial state so a later
	// auth handshake picks up monitoring without a restart.
	if err := authSvc.Initialize(ctx); err != nil {
		return err
	}
	authSvc.StartMonitoring(ctx)
	defer authSvc.Shutdown()

	// 7. Serve the health endpoint.
	apiHandler := httphandler.NewHandler(healthSvc, authSvc, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("credkeeper started", "state", authSvc.State().String())

	// 8. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
