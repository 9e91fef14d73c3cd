// Package reconcile computes the desired wiki state for a channel and issues
// the create and delete calls that get the book there.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/starford/tubestack/internal/bookstack"
	"github.com/starford/tubestack/internal/checksum"
	"github.com/starford/tubestack/internal/embed"
	"github.com/starford/tubestack/internal/models"
	"github.com/starford/tubestack/internal/render"
)

// ErrNothingToSync is returned when the inventory has neither playlists nor
// uncategorized uploads.
var ErrNothingToSync = errors.New("reconcile: nothing to sync")

// Wiki is the subset of the BookStack API a run needs.
type Wiki interface {
	GetBook(ctx context.Context, bookID int) (*bookstack.Book, error)
	GetPage(ctx context.Context, pageID int) (*models.Page, error)
	CreateChapter(ctx context.Context, req bookstack.CreateChapterRequest) (*models.Chapter, error)
	DeleteChapter(ctx context.Context, chapterID int) error
	CreatePage(ctx context.Context, req bookstack.CreatePageRequest) (*models.Page, error)
	DeletePage(ctx context.Context, pageID int, hard bool) error
}

var _ Wiki = (*bookstack.Client)(nil)

// Options are the per-run settings.
type Options struct {
	BookID        int
	ForceResync   bool
	DryRun        bool
	AppendVideoID bool
}

// Syncer runs reconciliations. A Syncer is not safe for concurrent runs;
// callers serialize them.
type Syncer struct {
	src     Source
	wiki    Wiki
	logger  *slog.Logger
	observe func(Event)
	now     func() time.Time
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithObserver registers fn to receive every Event of a run, in order.
func WithObserver(fn func(Event)) Option {
	return func(s *Syncer) { s.observe = fn }
}

// New returns a Syncer reading from src and writing to wiki.
func New(src Source, wiki Wiki, logger *slog.Logger, opts ...Option) *Syncer {
	s := &Syncer{
		src:     src,
		wiki:    wiki,
		logger:  logger,
		observe: func(Event) {},
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run performs one reconciliation. Per-item failures are counted in the
// summary and do not stop the run; the returned error is non-nil only when
// the inventory could not be built or ctx was cancelled.
func (s *Syncer) Run(ctx context.Context, opts Options) (*Summary, error) {
	sum := &Summary{
		ForceResync: opts.ForceResync,
		DryRun:      opts.DryRun,
		StartedAt:   s.now(),
	}
	defer func() { sum.FinishedAt = s.now() }()

	logger := s.logger.With(slog.Int("book_id", opts.BookID))
	if opts.DryRun {
		logger = logger.With(slog.Bool("dry_run", true))
	}

	inv, err := FetchInventory(ctx, s.src, logger)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return sum, ctxErr
		}
		logger.Error("sync: inventory unavailable, nothing to sync", slog.String("error", err.Error()))
		return sum, errors.Join(ErrNothingToSync, err)
	}
	sum.Playlists = len(inv.Playlists)
	sum.Uploads = len(inv.Uploads)
	sum.Uncategorized = len(inv.Uncategorized)
	if inv.Empty() {
		logger.Warn("sync: no playlists or uncategorized videos, stopping")
		return sum, ErrNothingToSync
	}

	var (
		existing map[string]int
		chapters map[string]int
	)
	wiped := false
	if opts.ForceResync {
		logger.Info("sync: force resync, wiping book")
		wiped = s.wipe(ctx, opts, sum, logger)
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if !wiped {
			logger.Warn("sync: wipe incomplete, scanning surviving pages")
		}
	}
	switch {
	case wiped && opts.DryRun:
		// Every planned delete succeeds, so the planned book starts empty.
		existing = make(map[string]int)
		chapters = make(map[string]int)
	case wiped:
		existing = make(map[string]int)
		chapters = s.existingChapters(ctx, opts.BookID, logger)
	default:
		existing = s.scanExisting(ctx, opts.BookID, logger)
		chapters = s.existingChapters(ctx, opts.BookID, logger)
	}
	if err := ctx.Err(); err != nil {
		return sum, err
	}

	ropts := render.Options{AppendVideoID: opts.AppendVideoID}
	planned := -1
	for _, pl := range inv.Playlists {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		chapterID, ok := chapters[pl.Title]
		if ok {
			sum.ChaptersReused++
			s.observe(Event{Kind: EventChapterReused, Name: pl.Title, ChapterID: chapterID, Planned: opts.DryRun})
		} else {
			chapterID, ok = s.createChapter(ctx, opts, pl.Title, sum, logger)
			if !ok {
				logger.Warn("sync: skipping playlist, no chapter",
					slog.String("playlist", pl.Title),
					slog.Int("videos", len(pl.Videos)))
				continue
			}
			if opts.DryRun {
				chapterID = planned
				planned--
			}
			chapters[pl.Title] = chapterID
		}
		for _, v := range pl.Videos {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
			s.syncVideo(ctx, opts, ropts, v, chapterID, existing, sum, logger)
		}
	}

	for _, v := range inv.Uncategorized {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		s.syncVideo(ctx, opts, ropts, v, 0, existing, sum, logger)
	}

	logger.Info("sync: finished",
		slog.Int("videos_processed", sum.VideosProcessed),
		slog.Int("pages_created", sum.PagesCreated),
		slog.Int("pages_skipped", sum.PagesSkipped),
		slog.Int("pages_failed", sum.PagesFailed),
		slog.Int("chapters_created", sum.ChaptersCreated),
		slog.Int("chapters_failed", sum.ChaptersFailed))
	return sum, nil
}

// scanExisting maps the video ID embedded in each page of the book to the
// page ID. Pages that cannot be fetched or embed no video are left out. A
// book that cannot be read yields an empty map.
func (s *Syncer) scanExisting(ctx context.Context, bookID int, logger *slog.Logger) map[string]int {
	existing := make(map[string]int)
	book, err := s.wiki.GetBook(ctx, bookID)
	if err != nil {
		logger.Error("scan: book contents unavailable", slog.String("error", err.Error()))
		return existing
	}
	for _, p := range book.Pages() {
		if ctx.Err() != nil {
			break
		}
		page, err := s.wiki.GetPage(ctx, p.ID)
		if err != nil {
			logger.Warn("scan: page fetch failed", slog.Int("page_id", p.ID), slog.String("error", err.Error()))
			continue
		}
		id, ok := embed.VideoID(page.HTML)
		if !ok {
			continue
		}
		if prev, dup := existing[id]; dup {
			logger.Warn("scan: video embedded twice",
				slog.String("video_id", id),
				slog.Int("page_id", p.ID),
				slog.Int("kept_page_id", prev))
			continue
		}
		existing[id] = p.ID
	}
	logger.Info("scan: existing pages mapped", slog.Int("count", len(existing)))
	return existing
}

func (s *Syncer) existingChapters(ctx context.Context, bookID int, logger *slog.Logger) map[string]int {
	book, err := s.wiki.GetBook(ctx, bookID)
	if err != nil {
		logger.Error("sync: chapter listing unavailable", slog.String("error", err.Error()))
		return make(map[string]int)
	}
	return book.ChapterIDsByName()
}

// wipe removes every page and then every chapter of the book. Pages are
// hard-deleted so they never reach the recycle bin. It reports whether the
// book was read and every delete succeeded.
func (s *Syncer) wipe(ctx context.Context, opts Options, sum *Summary, logger *slog.Logger) bool {
	book, err := s.wiki.GetBook(ctx, opts.BookID)
	if err != nil {
		logger.Error("wipe: book contents unavailable", slog.String("error", err.Error()))
		return false
	}
	pages := book.Pages()
	chapters := book.Chapters()
	failures := sum.DeleteFailures
	logger.Info("wipe: deleting contents", slog.Int("pages", len(pages)), slog.Int("chapters", len(chapters)))

	for _, p := range pages {
		if ctx.Err() != nil {
			return false
		}
		if !opts.DryRun {
			if err := s.wiki.DeletePage(ctx, p.ID, true); err != nil {
				sum.DeleteFailures++
				logger.Warn("wipe: page delete failed", slog.Int("page_id", p.ID), slog.String("error", err.Error()))
				continue
			}
		}
		sum.PagesDeleted++
		s.observe(Event{Kind: EventPageDeleted, Name: p.Name, PageID: p.ID, ChapterID: p.ChapterID, Planned: opts.DryRun})
	}
	for _, c := range chapters {
		if ctx.Err() != nil {
			return false
		}
		if !opts.DryRun {
			if err := s.wiki.DeleteChapter(ctx, c.ID); err != nil {
				sum.DeleteFailures++
				logger.Warn("wipe: chapter delete failed", slog.Int("chapter_id", c.ID), slog.String("error", err.Error()))
				continue
			}
		}
		sum.ChaptersDeleted++
		s.observe(Event{Kind: EventChapterDeleted, Name: c.Name, ChapterID: c.ID, Planned: opts.DryRun})
	}
	return failures == sum.DeleteFailures
}

func (s *Syncer) createChapter(ctx context.Context, opts Options, title string, sum *Summary, logger *slog.Logger) (int, bool) {
	if opts.DryRun {
		sum.ChaptersCreated++
		s.observe(Event{Kind: EventChapterCreated, Name: title, Planned: true})
		return 0, true
	}
	ch, err := s.wiki.CreateChapter(ctx, bookstack.CreateChapterRequest{
		BookID:      opts.BookID,
		Name:        title,
		Description: render.ChapterDescription(title),
	})
	if err != nil {
		sum.ChaptersFailed++
		logger.Warn("sync: chapter create failed", slog.String("chapter", title), slog.String("error", err.Error()))
		s.observe(Event{Kind: EventChapterFailed, Name: title})
		return 0, false
	}
	sum.ChaptersCreated++
	logger.Info("sync: chapter created", slog.String("chapter", title), slog.Int("chapter_id", ch.ID))
	s.observe(Event{Kind: EventChapterCreated, Name: title, ChapterID: ch.ID})
	return ch.ID, true
}

// syncVideo creates the page for v unless the video already has one.
// existing is updated as soon as a page is created.
func (s *Syncer) syncVideo(ctx context.Context, opts Options, ropts render.Options, v models.Video, chapterID int, existing map[string]int, sum *Summary, logger *slog.Logger) {
	sum.VideosProcessed++
	if pageID, ok := existing[v.ID]; ok {
		sum.PagesSkipped++
		logger.Debug("sync: page exists", slog.String("video_id", v.ID), slog.Int("page_id", pageID))
		s.observe(Event{Kind: EventPageSkipped, Name: v.Title, VideoID: v.ID, PageID: pageID, ChapterID: chapterID, Planned: opts.DryRun})
		return
	}

	title := render.Title(v, ropts)
	html, err := render.PageHTML(v, ropts)
	if err != nil {
		sum.PagesFailed++
		logger.Warn("sync: render failed", slog.String("video_id", v.ID), slog.String("error", err.Error()))
		s.observe(Event{Kind: EventPageFailed, Name: title, VideoID: v.ID, ChapterID: chapterID})
		return
	}
	sum256 := checksum.String(html)

	if opts.DryRun {
		sum.PagesCreated++
		existing[v.ID] = 0
		s.observe(Event{Kind: EventPageCreated, Name: title, VideoID: v.ID, ChapterID: chapterID, Checksum: sum256, Planned: true})
		return
	}

	page, err := s.wiki.CreatePage(ctx, bookstack.CreatePageRequest{
		BookID:    opts.BookID,
		ChapterID: chapterID,
		Name:      title,
		HTML:      html,
		Tags:      render.Tags(v),
	})
	if err != nil {
		sum.PagesFailed++
		logger.Warn("sync: page create failed", slog.String("video_id", v.ID), slog.String("title", title), slog.String("error", err.Error()))
		s.observe(Event{Kind: EventPageFailed, Name: title, VideoID: v.ID, ChapterID: chapterID})
		return
	}
	sum.PagesCreated++
	existing[v.ID] = page.ID
	logger.Info("sync: page created", slog.String("video_id", v.ID), slog.Int("page_id", page.ID), slog.Int("chapter_id", chapterID))
	s.observe(Event{Kind: EventPageCreated, Name: title, VideoID: v.ID, PageID: page.ID, ChapterID: chapterID, Checksum: sum256})
}
