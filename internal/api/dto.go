package api

import (
	"github.com/starford/tubestack/internal/ledger"
	"github.com/starford/tubestack/internal/runner"
)

// SyncRequest is the optional body of POST /api/sync.
type SyncRequest = runner.Request

// SyncAccepted is returned when a run was started in the background.
type SyncAccepted struct {
	Accepted    bool `json:"accepted"`
	ForceResync bool `json:"force_resync"`
	DryRun      bool `json:"dry_run"`
}

// RunListResponse wraps run listings.
type RunListResponse struct {
	Runs []ledger.Run `json:"runs"`
}

// StatusResponse describes the daemon state.
type StatusResponse struct {
	Running      bool        `json:"running"`
	LastRun      *ledger.Run `json:"last_run,omitempty"`
	SyncedPages  int         `json:"synced_pages"`
	BreakerState string      `json:"wiki_breaker_state,omitempty"`
}
