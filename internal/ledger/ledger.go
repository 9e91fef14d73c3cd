package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/tubestack/internal/apperr"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusError   = "error"
)

// Counts are the per-run counters.
type Counts struct {
	VideosProcessed int `json:"videos_processed"`
	PagesCreated    int `json:"pages_created"`
	PagesSkipped    int `json:"pages_skipped"`
	PagesFailed     int `json:"pages_failed"`
	PagesDeleted    int `json:"pages_deleted"`
	ChaptersCreated int `json:"chapters_created"`
	ChaptersReused  int `json:"chapters_reused"`
	ChaptersFailed  int `json:"chapters_failed"`
	ChaptersDeleted int `json:"chapters_deleted"`
}

// Run is one row of the runs table.
type Run struct {
	ID          int64      `json:"id"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Status      string     `json:"status"`
	ForceResync bool       `json:"force_resync"`
	DryRun      bool       `json:"dry_run"`
	Counts
	Error string `json:"error,omitempty"`
}

// PageRecord ties a video to the wiki page created for it.
type PageRecord struct {
	VideoID   string    `json:"video_id"`
	PageID    int       `json:"page_id"`
	ChapterID int       `json:"chapter_id"`
	Title     string    `json:"title"`
	Checksum  string    `json:"checksum"`
	RunID     int64     `json:"run_id"`
	SyncedAt  time.Time `json:"synced_at"`
}

// Store is the ledger surface used by the runner, API and MCP server.
type Store interface {
	BeginRun(ctx context.Context, force, dryRun bool, startedAt time.Time) (int64, error)
	FinishRun(ctx context.Context, id int64, c Counts, runErr error, finishedAt time.Time) error
	RecordPage(ctx context.Context, rec PageRecord) error
	ForgetPage(ctx context.Context, pageID int) error
	GetPage(ctx context.Context, videoID string) (*PageRecord, error)
	PageCount(ctx context.Context) (int, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	LastRun(ctx context.Context) (*Run, error)
	Close() error
}

var _ Store = (*DB)(nil)

// BeginRun inserts a running run and returns its ID.
func (db *DB) BeginRun(ctx context.Context, force, dryRun bool, startedAt time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO runs (started_at, status, force_resync, dry_run) VALUES (?, ?, ?, ?)`,
		startedAt.UTC(), StatusRunning, force, dryRun)
	if err != nil {
		return 0, fmt.Errorf("ledger: begin run: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun stores the final counters and status of a run.
func (db *DB) FinishRun(ctx context.Context, id int64, c Counts, runErr error, finishedAt time.Time) error {
	status, msg := StatusOK, ""
	if runErr != nil {
		status, msg = StatusError, runErr.Error()
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE runs SET
			finished_at = ?, status = ?, error = ?,
			videos_processed = ?, pages_created = ?, pages_skipped = ?, pages_failed = ?, pages_deleted = ?,
			chapters_created = ?, chapters_reused = ?, chapters_failed = ?, chapters_deleted = ?
		WHERE id = ?`,
		finishedAt.UTC(), status, msg,
		c.VideosProcessed, c.PagesCreated, c.PagesSkipped, c.PagesFailed, c.PagesDeleted,
		c.ChaptersCreated, c.ChaptersReused, c.ChaptersFailed, c.ChaptersDeleted,
		id)
	if err != nil {
		return fmt.Errorf("ledger: finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ledger: finish run %d: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// RecordPage inserts or replaces the page record of a video.
func (db *DB) RecordPage(ctx context.Context, rec PageRecord) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO synced_pages (video_id, page_id, chapter_id, title, checksum, run_id, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(video_id) DO UPDATE SET
			page_id    = excluded.page_id,
			chapter_id = excluded.chapter_id,
			title      = excluded.title,
			checksum   = excluded.checksum,
			run_id     = excluded.run_id,
			synced_at  = excluded.synced_at
	`, rec.VideoID, rec.PageID, rec.ChapterID, rec.Title, rec.Checksum, rec.RunID, rec.SyncedAt.UTC())
	if err != nil {
		return fmt.Errorf("ledger: record page: %w", err)
	}
	return nil
}

// ForgetPage drops the record of a wiki page that was deleted. Unknown
// pages are ignored.
func (db *DB) ForgetPage(ctx context.Context, pageID int) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM synced_pages WHERE page_id = ?`, pageID); err != nil {
		return fmt.Errorf("ledger: forget page %d: %w", pageID, err)
	}
	return nil
}

// GetPage returns the record for a video, or apperr.ErrNotFound.
func (db *DB) GetPage(ctx context.Context, videoID string) (*PageRecord, error) {
	var rec PageRecord
	err := db.conn.QueryRowContext(ctx, `
		SELECT video_id, page_id, chapter_id, title, checksum, run_id, synced_at
		FROM synced_pages WHERE video_id = ?`, videoID).
		Scan(&rec.VideoID, &rec.PageID, &rec.ChapterID, &rec.Title, &rec.Checksum, &rec.RunID, &rec.SyncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get page: %w", err)
	}
	return &rec, nil
}

// PageCount returns the number of recorded pages.
func (db *DB) PageCount(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM synced_pages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger: page count: %w", err)
	}
	return n, nil
}

const runColumns = `id, started_at, finished_at, status, force_resync, dry_run,
	videos_processed, pages_created, pages_skipped, pages_failed, pages_deleted,
	chapters_created, chapters_reused, chapters_failed, chapters_deleted, error`

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// LastRun returns the newest run, or apperr.ErrNotFound.
func (db *DB) LastRun(ctx context.Context) (*Run, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY id DESC LIMIT 1`)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r        Run
		finished sql.NullTime
	)
	err := s.Scan(&r.ID, &r.StartedAt, &finished, &r.Status, &r.ForceResync, &r.DryRun,
		&r.VideosProcessed, &r.PagesCreated, &r.PagesSkipped, &r.PagesFailed, &r.PagesDeleted,
		&r.ChaptersCreated, &r.ChaptersReused, &r.ChaptersFailed, &r.ChaptersDeleted, &r.Error)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("ledger: scan run: %w", err)
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}
