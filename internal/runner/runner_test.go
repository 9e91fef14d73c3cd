package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/starford/tubestack/internal/apperr"
	"github.com/starford/tubestack/internal/bookstack"
	"github.com/starford/tubestack/internal/ledger"
	"github.com/starford/tubestack/internal/metrics"
	"github.com/starford/tubestack/internal/models"
	"github.com/starford/tubestack/internal/reconcile"
	"github.com/starford/tubestack/internal/sse"
	"github.com/starford/tubestack/internal/testutil"
)

const testBookID = 3

type fixture struct {
	wiki    *testutil.FakeWiki
	src     *testutil.FakeSource
	store   *ledger.DB
	metrics *metrics.Metrics
	runner  *Runner
}

func newFixture(t *testing.T, settings Settings, opts ...Option) *fixture {
	t.Helper()
	w := testutil.NewFakeWiki(t, testBookID)
	client, err := bookstack.New(bookstack.Options{
		BaseURL:     w.URL,
		TokenID:     "id",
		TokenSecret: "secret",
		Timeout:     5 * time.Second,
	}, testutil.QuietLogger())
	if err != nil {
		t.Fatal(err)
	}
	src := &testutil.FakeSource{
		Uploads: []models.Video{testutil.Video(1, "One"), testutil.Video(2, "Two"), testutil.Video(3, "Three")},
		Lists: []models.Playlist{
			{ID: "PL1", Title: "Series", Videos: []models.Video{testutil.Video(1, "One"), testutil.Video(2, "Two")}},
		},
	}
	f := &fixture{wiki: w, src: src, store: testutil.TestLedger(t), metrics: metrics.New()}
	settings.BookID = testBookID
	opts = append([]Option{WithMetrics(f.metrics)}, opts...)
	f.runner = New(src, client, f.store, settings, testutil.QuietLogger(), opts...)
	return f
}

func TestRun_RecordsRunAndPages(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()

	res, err := f.runner.Run(ctx, Request{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != metrics.StatusOK || res.Summary.PagesCreated != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}

	last, err := f.store.LastRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last.ID != res.RunID || last.Status != ledger.StatusOK || last.PagesCreated != 3 || last.ChaptersCreated != 1 {
		t.Errorf("unexpected ledger run: %+v", last)
	}
	if n, _ := f.store.PageCount(ctx); n != 3 {
		t.Errorf("page count = %d, want 3", n)
	}
	rec, err := f.store.GetPage(ctx, testutil.VideoID(3))
	if err != nil {
		t.Fatal(err)
	}
	if rec.PageID == 0 || rec.ChapterID != 0 || rec.Title != "Three" || rec.Checksum == "" || rec.RunID != res.RunID {
		t.Errorf("unexpected page record: %+v", rec)
	}

	if got := promtest.ToFloat64(f.metrics.Pages.WithLabelValues("created")); got != 3 {
		t.Errorf("created metric = %v", got)
	}
	if got := promtest.ToFloat64(f.metrics.Runs.WithLabelValues(metrics.StatusOK)); got != 1 {
		t.Errorf("ok runs metric = %v", got)
	}
}

type blockingSource struct {
	*testutil.FakeSource
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSource) UploadsPlaylistID(ctx context.Context) (string, error) {
	close(b.entered)
	<-b.release
	return b.FakeSource.UploadsPlaylistID(ctx)
}

func TestRun_SingleFlight(t *testing.T) {
	f := newFixture(t, Settings{BookID: testBookID})
	src := &blockingSource{FakeSource: f.src, entered: make(chan struct{}), release: make(chan struct{})}
	client, _ := bookstack.New(bookstack.Options{BaseURL: f.wiki.URL, TokenID: "id", TokenSecret: "s"}, testutil.QuietLogger())
	r := New(src, client, f.store, Settings{BookID: testBookID}, testutil.QuietLogger())

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), Request{})
		done <- err
	}()
	<-src.entered

	if !r.Running() {
		t.Error("expected Running() during a run")
	}
	if _, err := r.Run(context.Background(), Request{}); !errors.Is(err, apperr.ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}

	close(src.release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if r.Running() {
		t.Error("still running after completion")
	}
	runs, _ := f.store.ListRuns(context.Background(), 10)
	if len(runs) != 1 {
		t.Errorf("expected exactly one ledger run, got %d", len(runs))
	}
}

func TestStart_ClaimsSlotBeforeReturning(t *testing.T) {
	f := newFixture(t, Settings{})
	src := &blockingSource{FakeSource: f.src, entered: make(chan struct{}), release: make(chan struct{})}
	client, _ := bookstack.New(bookstack.Options{BaseURL: f.wiki.URL, TokenID: "id", TokenSecret: "s"}, testutil.QuietLogger())
	r := New(src, client, f.store, Settings{BookID: testBookID}, testutil.QuietLogger())

	done, err := r.Start(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	// No wait for the background goroutine: the slot is already held.
	if _, err := r.Start(context.Background(), Request{}); !errors.Is(err, apperr.ErrSyncInProgress) {
		t.Fatalf("second Start err = %v, want ErrSyncInProgress", err)
	}
	if _, err := r.Run(context.Background(), Request{}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("Run err = %v, want a conflict", err)
	}

	close(src.release)
	select {
	case res := <-done:
		if res == nil || res.Status != metrics.StatusOK || res.Summary.PagesCreated != 3 {
			t.Errorf("unexpected result: %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("background run did not finish")
	}
	if r.Running() {
		t.Error("slot still held after the result was delivered")
	}
	runs, _ := f.store.ListRuns(context.Background(), 10)
	if len(runs) != 1 {
		t.Errorf("expected one ledger run, got %d", len(runs))
	}
}

func TestRun_ForceResyncKeepsRecordsOfSurvivingPages(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()
	if _, err := f.runner.Run(ctx, Request{}); err != nil {
		t.Fatal(err)
	}
	kept, err := f.store.GetPage(ctx, testutil.VideoID(3))
	if err != nil {
		t.Fatal(err)
	}
	f.wiki.FailDeletes(func(id int) bool { return id == kept.PageID })

	res, err := f.runner.Run(ctx, Request{ForceResync: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.PagesDeleted != 2 || res.Summary.DeleteFailures != 1 || res.Summary.PagesSkipped != 1 {
		t.Errorf("unexpected summary: %+v", res.Summary)
	}
	rec, err := f.store.GetPage(ctx, testutil.VideoID(3))
	if err != nil {
		t.Fatalf("record of the surviving page was dropped: %v", err)
	}
	if rec.PageID != kept.PageID {
		t.Errorf("record page = %d, want %d", rec.PageID, kept.PageID)
	}
	if n, _ := f.store.PageCount(ctx); n != 3 {
		t.Errorf("page count = %d, want 3", n)
	}
	if got := len(f.wiki.Pages()); got != 3 {
		t.Errorf("wiki has %d pages, want 3", got)
	}
}

func TestRun_ForceResyncReplacesPages(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()
	if _, err := f.runner.Run(ctx, Request{}); err != nil {
		t.Fatal(err)
	}
	first, _ := f.store.GetPage(ctx, testutil.VideoID(1))

	res, err := f.runner.Run(ctx, Request{ForceResync: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.PagesDeleted != 3 || res.Summary.PagesCreated != 3 {
		t.Errorf("unexpected summary: %+v", res.Summary)
	}
	second, _ := f.store.GetPage(ctx, testutil.VideoID(1))
	if second.PageID == first.PageID {
		t.Error("page record not replaced after resync")
	}
	if n, _ := f.store.PageCount(ctx); n != 3 {
		t.Errorf("page count = %d, want 3", n)
	}
}

func TestRun_ConfiguredForceResync(t *testing.T) {
	f := newFixture(t, Settings{ForceResync: true})
	ctx := context.Background()
	for range 2 {
		if _, err := f.runner.Run(ctx, Request{}); err != nil {
			t.Fatal(err)
		}
	}
	last, _ := f.store.LastRun(ctx)
	if !last.ForceResync || last.PagesDeleted != 3 {
		t.Errorf("configured force resync not applied: %+v", last)
	}
}

func TestRun_DryRun(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()

	res, err := f.runner.Run(ctx, Request{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != metrics.StatusDryRun || res.Summary.PagesCreated != 3 {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(f.wiki.Log()) != 0 {
		t.Errorf("dry run wrote to the wiki: %v", f.wiki.Log())
	}
	if n, _ := f.store.PageCount(ctx); n != 0 {
		t.Errorf("dry run recorded %d pages", n)
	}
	last, _ := f.store.LastRun(ctx)
	if !last.DryRun {
		t.Errorf("ledger run not marked dry: %+v", last)
	}
	if got := promtest.ToFloat64(f.metrics.Pages.WithLabelValues("created")); got != 0 {
		t.Errorf("dry run counted in metrics: %v", got)
	}
}

func TestRun_NothingToSync(t *testing.T) {
	f := newFixture(t, Settings{})
	f.src.NoUploads = true
	ctx := context.Background()

	res, err := f.runner.Run(ctx, Request{})
	if !errors.Is(err, reconcile.ErrNothingToSync) {
		t.Fatalf("expected ErrNothingToSync, got %v", err)
	}
	if res.Status != metrics.StatusError {
		t.Errorf("status = %q", res.Status)
	}
	last, _ := f.store.LastRun(ctx)
	if last.Status != ledger.StatusError || last.Error == "" {
		t.Errorf("unexpected ledger run: %+v", last)
	}
}

func TestRun_NothingToSyncSkipsPurge(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "purged")
	f := newFixture(t, Settings{PurgeScript: writeScript(t, "touch "+marker)})
	f.src.NoUploads = true

	res, err := f.runner.Run(context.Background(), Request{})
	if !errors.Is(err, reconcile.ErrNothingToSync) {
		t.Fatalf("expected ErrNothingToSync, got %v", err)
	}
	if res.Purge != nil {
		t.Errorf("purge result set: %+v", res.Purge)
	}
	if _, err := os.Stat(marker); err == nil {
		t.Error("purge script ran although nothing was synced")
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts need a unix shell")
	}
	path := filepath.Join(t.TempDir(), "purge.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_PurgeScript(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "purged")
	script := writeScript(t, "touch "+marker+"\necho done")
	f := newFixture(t, Settings{PurgeScript: script})

	res, err := f.runner.Run(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("purge script did not run: %v", err)
	}
	if res.Purge == nil || res.Purge.Stdout != "done" || res.PurgeError != "" {
		t.Errorf("unexpected purge result: %+v / %q", res.Purge, res.PurgeError)
	}
}

func TestRun_PurgeFailureDoesNotFailRun(t *testing.T) {
	f := newFixture(t, Settings{PurgeScript: filepath.Join(t.TempDir(), "missing.sh")})

	res, err := f.runner.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("run failed because of purge: %v", err)
	}
	if res.Status != metrics.StatusOK || res.PurgeError == "" {
		t.Errorf("unexpected result: %+v", res)
	}
	if got := promtest.ToFloat64(f.metrics.PurgeFailed); got != 1 {
		t.Errorf("purge failures metric = %v", got)
	}
}

func TestRun_DryRunSkipsPurge(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "purged")
	f := newFixture(t, Settings{PurgeScript: writeScript(t, "touch "+marker)})

	if _, err := f.runner.Run(context.Background(), Request{DryRun: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(marker); err == nil {
		t.Error("purge script ran during a dry run")
	}
}

func TestRun_PublishesEvents(t *testing.T) {
	broker := sse.NewBroker(time.Millisecond)
	defer broker.Close()
	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)

	f := newFixture(t, Settings{}, WithEvents(broker))
	if _, err := f.runner.Run(context.Background(), Request{}); err != nil {
		t.Fatal(err)
	}

	var types []string
	deadline := time.After(2 * time.Second)
collect:
	for {
		select {
		case msg := <-ch:
			line, _, _ := strings.Cut(string(msg), "\n")
			types = append(types, strings.TrimPrefix(line, "event: "))
			if line == "event: "+sse.TypeSyncFinished {
				break collect
			}
		case <-deadline:
			t.Fatalf("timeout, got %v", types)
		}
	}

	if types[0] != sse.TypeSyncStarted {
		t.Errorf("first event = %q", types[0])
	}
	count := func(typ string) int {
		n := 0
		for _, ty := range types {
			if ty == typ {
				n++
			}
		}
		return n
	}
	if count(sse.TypePageCreated) != 3 || count(sse.TypeChapterCreated) != 1 {
		t.Errorf("unexpected events: %v", types)
	}
	if count(sse.TypeSyncProgress) == 0 {
		t.Errorf("no progress events: %v", types)
	}
}

func TestSetSettings(t *testing.T) {
	f := newFixture(t, Settings{})
	s := f.runner.Settings()
	s.AppendVideoID = true
	f.runner.SetSettings(s)

	if _, err := f.runner.Run(context.Background(), Request{}); err != nil {
		t.Fatal(err)
	}
	for _, p := range f.wiki.Pages() {
		if !strings.Contains(p.Name, "(YouTube ID: ") {
			t.Errorf("page %q lacks the video ID suffix", p.Name)
		}
	}
}
