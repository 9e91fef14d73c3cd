package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/starford/tubestack/internal/bookstack"
	"github.com/starford/tubestack/internal/ledger"
	"github.com/starford/tubestack/internal/metrics"
	"github.com/starford/tubestack/internal/runner"
	"github.com/starford/tubestack/internal/youtube"
)

// components are the wired collaborators shared by every command.
type components struct {
	cfg     *Config
	logger  *slog.Logger
	ledger  *ledger.DB
	wiki    *bookstack.Client
	source  *youtube.Client
	metrics *metrics.Metrics
	runner  *runner.Runner
}

func (c *components) Close() {
	if c.ledger != nil {
		c.ledger.Close()
	}
}

func newApplication(opts []Option) (*application, error) {
	app := &application{
		version:   "dev",
		logOutput: os.Stdout,
		output:    os.Stdout,
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, errors.New("config is required")
	}
	return app, nil
}

func newLogger(app *application) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: app.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// settingsFrom maps the reloadable part of the configuration to runner settings.
func settingsFrom(cfg *Config) runner.Settings {
	return runner.Settings{
		BookID:        cfg.BookStack.BookID,
		ForceResync:   cfg.Sync.ForceResync,
		AppendVideoID: cfg.Sync.AppendVideoID,
		PurgeScript:   cfg.Sync.PurgeScript,
		PurgeTimeout:  cfg.Sync.PurgeTimeout,
	}
}

// build wires the ledger, both API clients and the runner.
func build(ctx context.Context, app *application, logger *slog.Logger, ropts ...runner.Option) (*components, error) {
	cfg := app.config
	c := &components{cfg: cfg, logger: logger, metrics: metrics.New()}

	db, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}
	c.ledger = db

	svc, err := youtube.NewService(ctx, youtube.Options{
		APIKey:          cfg.YouTube.APIKey,
		CredentialsFile: cfg.YouTube.CredentialsFile,
		TokenFile:       cfg.YouTube.TokenFile,
		Endpoint:        cfg.YouTube.Endpoint,
		Timeout:         cfg.YouTube.Timeout,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("init youtube: %w", err)
	}
	c.source = youtube.NewClient(svc, cfg.YouTube.ChannelID, cfg.YouTube.Timeout, logger)

	wiki, err := bookstack.New(bookstack.Options{
		BaseURL:            cfg.BookStack.URL,
		TokenID:            cfg.BookStack.TokenID,
		TokenSecret:        cfg.BookStack.TokenSecret,
		Timeout:            cfg.BookStack.Timeout,
		RequestDelay:       cfg.BookStack.RequestDelay,
		MaxRetries:         cfg.BookStack.MaxRetries,
		InsecureSkipVerify: cfg.BookStack.InsecureSkipVerify,
		OnBreakerChange: func(_, to gobreaker.State) {
			c.metrics.SetBreakerState(to)
		},
	}, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("init bookstack: %w", err)
	}
	c.wiki = wiki

	ropts = append([]runner.Option{runner.WithMetrics(c.metrics)}, ropts...)
	c.runner = runner.New(c.source, c.wiki, c.ledger, settingsFrom(cfg), logger, ropts...)

	logger.Info("Configuration loaded",
		slog.String("channel_id", cfg.YouTube.ChannelID),
		slog.Bool("youtube_oauth", cfg.YouTube.UsesOAuth()),
		slog.String("bookstack_url", cfg.BookStack.URL),
		slog.Int("book_id", cfg.BookStack.BookID),
		slog.String("ledger_path", cfg.Ledger.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))
	return c, nil
}
