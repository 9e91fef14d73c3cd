// Package purge runs the external script that empties the wiki's recycle bin.
package purge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrScriptMissing is returned when the configured script does not exist.
var ErrScriptMissing = errors.New("purge: script not found")

// DefaultTimeout bounds a script run when no timeout is configured.
const DefaultTimeout = 5 * time.Minute

// Result is the outcome of one script run.
type Result struct {
	Path     string        `json:"path"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Script runs one executable without a shell.
type Script struct {
	path    string
	timeout time.Duration
	logger  *slog.Logger
}

// New returns a Script for path. An empty path yields a Script whose Run
// is a no-op.
func New(path string, timeout time.Duration, logger *slog.Logger) *Script {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Script{path: path, timeout: timeout, logger: logger}
}

// Enabled reports whether a script is configured.
func (s *Script) Enabled() bool { return s != nil && s.path != "" }

// Run executes the script and waits for it. The result is returned even
// when the script exits non-zero, together with an error carrying stderr.
func (s *Script) Run(ctx context.Context) (*Result, error) {
	if !s.Enabled() {
		return nil, nil
	}
	res := &Result{Path: s.path, ExitCode: -1}
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Error("purge: script not found, recycle bin not purged", slog.String("path", s.path))
			return res, fmt.Errorf("%w: %s", ErrScriptMissing, s.path)
		}
		return res, fmt.Errorf("purge: stat %s: %w", s.path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.path) //nolint:gosec // path comes from operator config
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = strings.TrimSpace(stdout.String())
	res.Stderr = strings.TrimSpace(stderr.String())

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		s.logger.Error("purge: script failed, recycle bin not purged",
			slog.String("path", s.path),
			slog.Int("exit_code", res.ExitCode),
			slog.String("stderr", res.Stderr),
			slog.String("error", err.Error()))
		return res, fmt.Errorf("purge: run %s: %w", s.path, err)
	}

	res.ExitCode = 0
	s.logger.Info("purge: recycle bin purged",
		slog.String("path", s.path),
		slog.String("output", res.Stdout),
		slog.Duration("duration", res.Duration))
	return res, nil
}
