// Package internal provides the application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"github.com/starford/tubestack/internal/api"
	"github.com/starford/tubestack/internal/ledger"
	"github.com/starford/tubestack/internal/mcpserver"
	"github.com/starford/tubestack/internal/runner"
	"github.com/starford/tubestack/internal/sse"
	"github.com/starford/tubestack/internal/watch"
	pkgconfig "github.com/starford/tubestack/pkg/config"
)

// Sync performs a single run and returns its run-level error.
func Sync(ctx context.Context, req runner.Request, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(app)

	c, err := build(ctx, app, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := c.runner.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	s := res.Summary
	logger.Info("Sync summary",
		slog.Int64("run_id", res.RunID),
		slog.String("status", res.Status),
		slog.Int("playlists", s.Playlists),
		slog.Int("uncategorized", s.Uncategorized),
		slog.Int("videos_processed", s.VideosProcessed),
		slog.Int("pages_created", s.PagesCreated),
		slog.Int("pages_skipped", s.PagesSkipped),
		slog.Int("pages_failed", s.PagesFailed),
		slog.Int("pages_deleted", s.PagesDeleted),
		slog.Int("chapters_created", s.ChaptersCreated),
		slog.Int("chapters_reused", s.ChaptersReused),
		slog.Int("chapters_failed", s.ChaptersFailed),
		slog.Int("chapters_deleted", s.ChaptersDeleted),
		slog.Duration("duration", s.Duration()))
	return nil
}

// History prints the most recent runs as a table.
func History(ctx context.Context, limit int, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	newLogger(app)

	db, err := ledger.Open(app.config.Ledger.Path)
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	defer db.Close()

	runs, err := db.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(app.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tMODE\tCREATED\tSKIPPED\tFAILED\tDELETED\tERROR")
	for _, r := range runs {
		mode := "sync"
		switch {
		case r.DryRun && r.ForceResync:
			mode = "dry-run,force"
		case r.DryRun:
			mode = "dry-run"
		case r.ForceResync:
			mode = "force"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Status, mode,
			r.PagesCreated, r.PagesSkipped, r.PagesFailed, r.PagesDeleted, r.Error)
	}
	return tw.Flush()
}

// ServeMCP runs the MCP server on stdin/stdout. Logs go to stderr.
func ServeMCP(ctx context.Context, opts ...Option) error {
	opts = append(opts, WithLogOutput(os.Stderr))
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(app)

	c, err := build(ctx, app, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	logger.Info("MCP server starting on stdio")
	return mcpserver.New(c.runner, c.ledger, app.version).ServeStdio()
}

// Serve starts the daemon: scheduled runs, the HTTP API with live events
// and metrics, and the config watcher.
func Serve(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := newLogger(app)

	broker := sse.NewBroker(time.Second)
	defer broker.Close()

	c, err := build(ctx, app, logger, runner.WithEvents(broker))
	if err != nil {
		return err
	}
	defer c.Close()

	g, gCtx := errgroup.WithContext(ctx)

	handler := api.NewHandler(gCtx, c.runner, c.ledger, func() string {
		return c.wiki.BreakerState().String()
	}, logger)
	apiRouter := api.NewRouter(handler, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health and metrics are unauthenticated.
	r.Get("/health/live", api.Live)
	r.Get("/health/ready", api.Ready(map[string]api.ReadyCheck{
		"ledger": func(ctx context.Context) error {
			_, err := c.ledger.PageCount(ctx)
			return err
		},
		"wiki": func(context.Context) error {
			if c.wiki.BreakerState() == gobreaker.StateOpen {
				return errors.New("circuit breaker open")
			}
			return nil
		},
	}))
	r.Handle("/metrics", c.metrics.Handler())
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Sync.Interval > 0 {
		g.Go(func() error {
			schedule(gCtx, c.runner, cfg.Sync.Interval, logger)
			return nil
		})
	}

	if app.configPath != "" {
		g.Go(func() error {
			err := watch.File(gCtx, app.configPath, watch.DefaultDebounce, logger, func() {
				reloadSettings(app.configPath, c.runner, logger)
			})
			if err != nil {
				logger.Warn("config watcher unavailable", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group context so the scheduler and watcher stop.
var errShutdown = errors.New("shutdown")

// schedule runs a sync immediately and then every interval until ctx ends.
// A tick that finds a run in progress is skipped.
func schedule(ctx context.Context, r *runner.Runner, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Info("scheduler: started", slog.Duration("interval", interval))

	for {
		if _, err := r.Run(ctx, runner.Request{}); err != nil {
			logger.Warn("scheduler: run ended with error", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			logger.Info("scheduler: stopped")
			return
		case <-ticker.C:
		}
	}
}

// reloadSettings re-reads the config file and applies its sync section.
// An invalid file is logged and ignored.
func reloadSettings(path string, r *runner.Runner, logger *slog.Logger) {
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		logger.Error("config reload rejected", slog.String("error", err.Error()))
		return
	}
	current := r.Settings()
	next := settingsFrom(cfg)
	if next.BookID != current.BookID {
		logger.Warn("config reload: bookstack.book_id change needs a restart",
			slog.Int("current", current.BookID),
			slog.Int("ignored", next.BookID))
		next.BookID = current.BookID
	}
	r.SetSettings(next)
}
