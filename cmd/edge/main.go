// cmd/edge/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github-issue-mirror/internal/api"
	"github-issue-mirror/internal/auth"
	"github-issue-mirror/internal/config"
	"github-issue-mirror/internal/github"
	"github-issue-mirror/internal/model"
	"github-issue-mirror/internal/ratelimit"
	"github-issue-mirror/internal/session"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadEdgeConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully")

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Initialize database connection and run migrations
	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()
	logger.Info("Database connection established")

	if err := runMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	// 5. Initialize application components
	sessions := session.NewPGStore(dbpool, cfg.SessionTTL)

	appAuth, err := github.NewAppAuth(cfg.GithubAppID, []byte(cfg.GithubAppPrivateKey))
	if err != nil {
		return err
	}

	tracker := ratelimit.NewTracker(ratelimit.DefaultWarningThreshold)
	tracker.OnThreshold(func(state model.RateLimitState) {
		logger.Warn("GitHub API rate limit budget low",
			"remaining", state.Remaining, "limit", state.Limit, "reset", state.Reset)
	})
	ghClient := github.NewClient("", tracker, logger)

	limiter := ratelimit.NewWindow(cfg.RateLimitWindow, cfg.RateLimitMax)
	authenticator := auth.New(ghClient, appAuth, sessions, limiter, cfg.GithubClientID, logger)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.NewRouter(authenticator, logger),
	}

	// 6. Run the server and the session sweeper until shutdown
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Edge service listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received. Draining connections.")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				removed, err := sessions.SweepExpired(gctx)
				if err != nil {
					logger.Error("Session sweep failed", "error", err)
					continue
				}
				if removed > 0 {
					logger.Info("Swept expired sessions", "removed", removed)
				}
			}
		}
	})

	return g.Wait()
}

func runMigrations(dbURL string) error {
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
