// Package runner serializes sync runs and wires each one to the ledger,
// metrics, live events and the recycle bin purge.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/tubestack/internal/apperr"
	"github.com/starford/tubestack/internal/ledger"
	"github.com/starford/tubestack/internal/metrics"
	"github.com/starford/tubestack/internal/purge"
	"github.com/starford/tubestack/internal/reconcile"
	"github.com/starford/tubestack/internal/sse"
)

// Settings are the reloadable sync settings.
type Settings struct {
	BookID        int
	ForceResync   bool
	AppendVideoID bool
	PurgeScript   string
	PurgeTimeout  time.Duration
}

// Request asks for one run. ForceResync is OR-ed with the configured value.
type Request struct {
	ForceResync bool `json:"force_resync"`
	DryRun      bool `json:"dry_run"`
}

// Result describes a finished run.
type Result struct {
	RunID      int64              `json:"run_id"`
	Status     string             `json:"status"`
	Summary    *reconcile.Summary `json:"summary"`
	Purge      *purge.Result      `json:"purge,omitempty"`
	PurgeError string             `json:"purge_error,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Publisher receives live events.
type Publisher interface {
	Publish(event sse.Event)
	PublishItem(event sse.Event, progress any)
}

// Progress is the running tally sent with sync.progress events.
type Progress struct {
	RunID   int64 `json:"run_id"`
	Created int   `json:"created"`
	Skipped int   `json:"skipped"`
	Failed  int   `json:"failed"`
	Deleted int   `json:"deleted"`
}

// Runner runs at most one sync at a time.
type Runner struct {
	syncer   *reconcile.Syncer
	store    ledger.Store
	metrics  *metrics.Metrics
	events   Publisher
	logger   *slog.Logger
	settings atomic.Pointer[Settings]
	now      func() time.Time

	mu       sync.Mutex
	running  bool
	runCtx   context.Context
	runID    int64
	progress Progress
}

// Option configures a Runner.
type Option func(*Runner)

// WithMetrics records runs in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithEvents publishes run events to p.
func WithEvents(p Publisher) Option {
	return func(r *Runner) { r.events = p }
}

// New returns a Runner syncing src into wiki with the given settings.
func New(src reconcile.Source, wiki reconcile.Wiki, store ledger.Store, settings Settings, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	r.settings.Store(&settings)
	for _, o := range opts {
		o(r)
	}
	r.syncer = reconcile.New(src, wiki, logger, reconcile.WithObserver(r.onEvent))
	return r
}

// Settings returns the current settings.
func (r *Runner) Settings() Settings { return *r.settings.Load() }

// SetSettings replaces the settings for subsequent runs.
func (r *Runner) SetSettings(s Settings) {
	r.settings.Store(&s)
	r.logger.Info("runner: settings updated",
		slog.Int("book_id", s.BookID),
		slog.Bool("force_resync", s.ForceResync),
		slog.Bool("append_video_id", s.AppendVideoID),
		slog.String("purge_script", s.PurgeScript))
}

// Running reports whether a run is in progress.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Run performs one sync. It returns apperr.ErrSyncInProgress without doing
// anything when another run has not finished. The returned error is the
// run-level error; per-item failures only show up in the summary.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if !r.acquire() {
		return nil, apperr.ErrSyncInProgress
	}
	defer r.release()
	return r.run(ctx, req)
}

// Start claims the run slot before returning and performs the run in the
// background. The channel receives the result once and is then closed.
// It returns apperr.ErrSyncInProgress when another run holds the slot.
func (r *Runner) Start(ctx context.Context, req Request) (<-chan *Result, error) {
	if !r.acquire() {
		return nil, apperr.ErrSyncInProgress
	}
	done := make(chan *Result, 1)
	go func() {
		defer close(done)
		res, err := r.run(ctx, req)
		r.release()
		if res == nil {
			res = &Result{Status: metrics.StatusError, Error: err.Error()}
		}
		done <- res
	}()
	return done, nil
}

func (r *Runner) acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *Runner) release() {
	r.mu.Lock()
	r.running = false
	r.runCtx = nil
	r.mu.Unlock()
}

func (r *Runner) run(ctx context.Context, req Request) (*Result, error) {
	settings := r.Settings()
	opts := reconcile.Options{
		BookID:        settings.BookID,
		ForceResync:   settings.ForceResync || req.ForceResync,
		DryRun:        req.DryRun,
		AppendVideoID: settings.AppendVideoID,
	}

	runID, err := r.store.BeginRun(ctx, opts.ForceResync, opts.DryRun, r.now())
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.runCtx = ctx
	r.runID = runID
	r.progress = Progress{RunID: runID}
	r.mu.Unlock()

	logger := r.logger.With(slog.Int64("run_id", runID))
	logger.Info("runner: sync started",
		slog.Bool("force_resync", opts.ForceResync),
		slog.Bool("dry_run", opts.DryRun))
	r.publish(sse.Event{Type: sse.TypeSyncStarted, Data: map[string]any{
		"run_id":       runID,
		"force_resync": opts.ForceResync,
		"dry_run":      opts.DryRun,
	}})

	sum, runErr := r.syncer.Run(ctx, opts)
	res := &Result{RunID: runID, Summary: sum}

	// Nothing was written when the inventory came back empty.
	purgeWanted := !opts.DryRun && ctx.Err() == nil && !errors.Is(runErr, reconcile.ErrNothingToSync)
	if purgeWanted {
		script := purge.New(settings.PurgeScript, settings.PurgeTimeout, logger)
		if script.Enabled() {
			pres, perr := script.Run(ctx)
			res.Purge = pres
			if perr != nil {
				res.PurgeError = perr.Error()
				if r.metrics != nil {
					r.metrics.PurgeFailed.Inc()
				}
			}
		}
	}

	// A cancelled run is still recorded.
	finishCtx := context.WithoutCancel(ctx)
	finished := r.now()
	if err := r.store.FinishRun(finishCtx, runID, countsOf(sum), runErr, finished); err != nil {
		logger.Error("runner: finish run failed", slog.String("error", err.Error()))
	}

	switch {
	case runErr != nil:
		res.Status = metrics.StatusError
		res.Error = runErr.Error()
	case opts.DryRun:
		res.Status = metrics.StatusDryRun
	default:
		res.Status = metrics.StatusOK
	}
	if r.metrics != nil {
		r.metrics.ObserveRun(res.Status, sum.Duration(), finished)
	}
	r.publish(sse.Event{Type: sse.TypeSyncFinished, Data: res})

	if runErr != nil {
		if errors.Is(runErr, reconcile.ErrNothingToSync) {
			logger.Warn("runner: nothing to sync", slog.String("error", runErr.Error()))
		} else {
			logger.Error("runner: sync failed", slog.String("error", runErr.Error()))
		}
		return res, runErr
	}
	logger.Info("runner: sync finished",
		slog.String("status", res.Status),
		slog.Int("pages_created", sum.PagesCreated),
		slog.Int("pages_skipped", sum.PagesSkipped),
		slog.Int("pages_failed", sum.PagesFailed),
		slog.Duration("duration", sum.Duration()))
	return res, nil
}

func (r *Runner) onEvent(e reconcile.Event) {
	if r.metrics != nil {
		r.metrics.ObserveEvent(e)
	}

	r.mu.Lock()
	ctx, runID := r.runCtx, r.runID
	switch e.Kind {
	case reconcile.EventPageCreated:
		r.progress.Created++
	case reconcile.EventPageSkipped:
		r.progress.Skipped++
	case reconcile.EventPageFailed, reconcile.EventChapterFailed:
		r.progress.Failed++
	case reconcile.EventPageDeleted, reconcile.EventChapterDeleted:
		r.progress.Deleted++
	}
	progress := r.progress
	r.mu.Unlock()

	if e.Kind == reconcile.EventPageCreated && !e.Planned && ctx != nil {
		err := r.store.RecordPage(ctx, ledger.PageRecord{
			VideoID:   e.VideoID,
			PageID:    e.PageID,
			ChapterID: e.ChapterID,
			Title:     e.Name,
			Checksum:  e.Checksum,
			RunID:     runID,
			SyncedAt:  r.now(),
		})
		if err != nil {
			r.logger.Warn("runner: record page failed", slog.String("video_id", e.VideoID), slog.String("error", err.Error()))
		}
	}

	if e.Kind == reconcile.EventPageDeleted && !e.Planned && ctx != nil {
		if err := r.store.ForgetPage(ctx, e.PageID); err != nil {
			r.logger.Warn("runner: forget page failed", slog.Int("page_id", e.PageID), slog.String("error", err.Error()))
		}
	}

	if r.events != nil {
		r.events.PublishItem(sse.Event{Type: e.Kind, Data: e}, progress)
	}
}

func (r *Runner) publish(e sse.Event) {
	if r.events != nil {
		r.events.Publish(e)
	}
}

func countsOf(s *reconcile.Summary) ledger.Counts {
	if s == nil {
		return ledger.Counts{}
	}
	return ledger.Counts{
		VideosProcessed: s.VideosProcessed,
		PagesCreated:    s.PagesCreated,
		PagesSkipped:    s.PagesSkipped,
		PagesFailed:     s.PagesFailed,
		PagesDeleted:    s.PagesDeleted,
		ChaptersCreated: s.ChaptersCreated,
		ChaptersReused:  s.ChaptersReused,
		ChaptersFailed:  s.ChaptersFailed,
		ChaptersDeleted: s.ChaptersDeleted,
	}
}
