// Package apperr holds sentinel errors shared across packages.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	ErrSyncInProgress = fmt.Errorf("sync already in progress: %w", ErrConflict)
)
