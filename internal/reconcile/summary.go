package reconcile

import "time"

// Summary holds the counters of one run. In a dry run the create and delete
// counters describe what would have happened.
type Summary struct {
	ForceResync bool      `json:"force_resync"`
	DryRun      bool      `json:"dry_run"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`

	Playlists     int `json:"playlists"`
	Uploads       int `json:"uploads"`
	Uncategorized int `json:"uncategorized"`

	VideosProcessed int `json:"videos_processed"`
	PagesCreated    int `json:"pages_created"`
	PagesSkipped    int `json:"pages_skipped"`
	PagesFailed     int `json:"pages_failed"`
	PagesDeleted    int `json:"pages_deleted"`
	ChaptersCreated int `json:"chapters_created"`
	ChaptersReused  int `json:"chapters_reused"`
	ChaptersFailed  int `json:"chapters_failed"`
	ChaptersDeleted int `json:"chapters_deleted"`
	DeleteFailures  int `json:"delete_failures"`
}

// Duration is the wall time of the run.
func (s *Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Event kinds emitted while a run progresses.
const (
	EventPageCreated    = "page.created"
	EventPageSkipped    = "page.skipped"
	EventPageFailed     = "page.failed"
	EventPageDeleted    = "page.deleted"
	EventChapterCreated = "chapter.created"
	EventChapterReused  = "chapter.reused"
	EventChapterFailed  = "chapter.failed"
	EventChapterDeleted = "chapter.deleted"
)

// Event describes one wiki mutation (or skipped mutation). Planned is set
// for events of a dry run.
type Event struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	VideoID   string `json:"video_id,omitempty"`
	PageID    int    `json:"page_id,omitempty"`
	ChapterID int    `json:"chapter_id,omitempty"`
	Checksum  string `json:"-"`
	Planned   bool   `json:"planned,omitempty"`
}
