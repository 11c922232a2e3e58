// Command dolist-api serves the todo REST API consumed by the dolist clients.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rjsadow/dolist/internal/api"
	"github.com/rjsadow/dolist/internal/config"
	"github.com/rjsadow/dolist/internal/db"
	"github.com/rjsadow/dolist/internal/identity"
	"github.com/rjsadow/dolist/internal/middleware"
	"golang.org/x/time/rate"
)

func main() {
	port := flag.Int("port", 0, "Port to listen on (overrides DOLIST_API_PORT)")
	flag.Parse()

	cfg := config.MustLoadAPI()
	if *port != 0 {
		cfg.APIPort = *port
		if errs := cfg.ValidateAPI(); len(errs) > 0 {
			log.Fatalf("Configuration error:\n%v", errs)
		}
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	database, err := db.OpenDB(cfg.APIDBType, cfg.APIDB)
	if err != nil {
		return fmt.Errorf("open todo database: %w", err)
	}
	defer database.Close()

	if cfg.APISeed {
		if err := api.Seed(ctx, database); err != nil {
			logger.Warn("failed to seed todos", "error", err)
		}
	}

	verifier, err := identity.NewVerifier(ctx, cfg)
	if err != nil {
		return fmt.Errorf("token verifier: %w", err)
	}

	var limiter *middleware.RateLimiter
	if cfg.APIRateLimit > 0 {
		limiter = middleware.NewRateLimiter(rate.Limit(cfg.APIRateLimit), cfg.APIBurst)
		if err := limiter.TrustProxies(cfg.APITrustedProxies); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		go limiter.Run(ctx)
	}

	s := &api.Server{
		DB:         database,
		Verifier:   verifier,
		CORSOrigin: cfg.APICORSOrigin,
		Limiter:    limiter,
		Logger:     logger,
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.APIPort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dolist api starting",
			"addr", srv.Addr,
			"provider", cfg.AuthProvider,
			"cors_origin", cfg.APICORSOrigin)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
