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

	"github.com/rjsadow/dolist/internal/config"
	"github.com/rjsadow/dolist/internal/db"
	"github.com/rjsadow/dolist/internal/identity"
	"github.com/rjsadow/dolist/internal/server"
	"github.com/rjsadow/dolist/internal/todos"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Parse command-line flags (can override env vars)
	port := flag.Int("port", config.DefaultPort, "Port to listen on")
	apiURL := flag.String("api-url", config.DefaultAPIURL, "Base URL of the todo API")
	flag.Parse()

	// Load configuration (env vars + flag overrides)
	cfg, err := config.LoadWithFlags(*port, *apiURL)
	if err != nil {
		log.Fatalf("Configuration error:\n%v\n\nSee .env.example for configuration options.", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	database, err := db.OpenDB(cfg.DBType, cfg.DB)
	if err != nil {
		return fmt.Errorf("open session database: %w", err)
	}
	defer database.Close()

	provider, err := identity.NewProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("identity provider: %w", err)
	}

	manager := identity.NewManager(database, provider, cfg.SessionTTL, logger)
	go manager.Run(ctx, cfg.CleanupInterval)

	client, err := todos.NewClient(nil, todos.Config{
		BaseURL: cfg.APIURL,
		Timeout: cfg.APITimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	app := &server.App{
		DB:       database,
		Sessions: manager,
		Todos:    client,
		Config:   cfg,
		Logger:   logger,
	}
	if lp, ok := provider.(*identity.LocalProvider); ok {
		logger.Warn("using the local development identity provider", "user", cfg.LocalUser)
		app.LocalIssuer = lp.Handler()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dolist web client starting",
			"url", cfg.BaseURL(),
			"api", cfg.APIURL,
			"provider", provider.Name())
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

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
