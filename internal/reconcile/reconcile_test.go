package reconcile

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/starford/tubestack/internal/bookstack"
	"github.com/starford/tubestack/internal/embed"
	"github.com/starford/tubestack/internal/models"
	"github.com/starford/tubestack/internal/testutil"
)

const testBookID = 7

func wikiClient(t *testing.T, w *testutil.FakeWiki) *bookstack.Client {
	t.Helper()
	c, err := bookstack.New(bookstack.Options{
		BaseURL:     w.URL,
		TokenID:     "id",
		TokenSecret: "secret",
		Timeout:     5 * time.Second,
	}, testutil.QuietLogger())
	if err != nil {
		t.Fatalf("bookstack.New: %v", err)
	}
	return c
}

func embedHTML(videoID string) string {
	return `<iframe src="` + embed.URL(videoID) + `"></iframe>`
}

// channel has two playlists, five uploads and one upload outside any playlist.
func channel() *testutil.FakeSource {
	v := make([]models.Video, 6)
	for i := range v {
		v[i] = testutil.Video(i+1, "Video "+string(rune('A'+i)))
	}
	return &testutil.FakeSource{
		Uploads: v[:5],
		Lists: []models.Playlist{
			{ID: "PL1", Title: "Basics", Videos: []models.Video{v[0], v[1]}},
			{ID: "PL2", Title: "Advanced", Videos: []models.Video{v[2], v[3]}},
		},
	}
}

func newSyncer(t *testing.T, src Source, w *testutil.FakeWiki, opts ...Option) *Syncer {
	t.Helper()
	return New(src, wikiClient(t, w), testutil.QuietLogger(), opts...)
}

func pagesByVideo(t *testing.T, w *testutil.FakeWiki) map[string][]testutil.FakePage {
	t.Helper()
	out := make(map[string][]testutil.FakePage)
	for _, p := range w.Pages() {
		id, ok := embed.VideoID(p.HTML)
		if !ok {
			t.Fatalf("page %d has no embed", p.ID)
		}
		out[id] = append(out[id], p)
	}
	return out
}

func TestRun_CreatesChaptersAndPages(t *testing.T) {
	w := testutil.NewFakeWiki(t, testBookID)
	s := newSyncer(t, channel(), w)

	sum, err := s.Run(context.Background(), Options{BookID: testBookID})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	chapters := w.Chapters()
	if len(chapters) != 2 {
		t.Fatalf("expected 2 chapters, got %d", len(chapters))
	}
	if chapters[0].Name != "Basics" || chapters[1].Name != "Advanced" {
		t.Errorf("unexpected chapters: %+v", chapters)
	}
	if chapters[0].Description != "Videos from YouTube playlist: Basics" {
		t.Errorf("description = %q", chapters[0].Description)
	}

	pages := pagesByVideo(t, w)
	if len(pages) != 5 {
		t.Fatalf("expected 5 pages, got %d", len(pages))
	}
	if got := pages[testutil.VideoID(1)][0].ChapterID; got != chapters[0].ID {
		t.Errorf("video 1 chapter = %d, want %d", got, chapters[0].ID)
	}
	if got := pages[testutil.VideoID(4)][0].ChapterID; got != chapters[1].ID {
		t.Errorf("video 4 chapter = %d, want %d", got, chapters[1].ID)
	}
	if got := pages[testutil.VideoID(5)][0].ChapterID; got != 0 {
		t.Errorf("uncategorized video chapter = %d, want book root", got)
	}

	if sum.PagesCreated != 5 || sum.ChaptersCreated != 2 || sum.VideosProcessed != 5 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if sum.Playlists != 2 || sum.Uploads != 5 || sum.Uncategorized != 1 {
		t.Errorf("unexpected inventory counts: %+v", sum)
	}
	if sum.Duration() < 0 || sum.FinishedAt.IsZero() {
		t.Errorf("run timing not recorded: %+v", sum)
	}
}

func TestRun_SecondRunIsNoop(t *testing.T) {
	w := testutil.NewFakeWiki(t, testBookID)
	s := newSyncer(t, channel(), w)

	if _, err := s.Run(context.Background(), Options{BookID: testBookID}); err != nil {
		t.Fatal(err)
	}
	before := len(w.Log())

	sum, err := s.Run(context.Background(), Options{BookID: testBookID})
	if err != nil {
		t.Fatal(err)
	}
	if n := len(w.Log()); n != before {
		t.Errorf("second run mutated the wiki: %v", w.Log()[before:])
	}
	if sum.PagesSkipped != 5 || sum.PagesCreated != 0 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if sum.ChaptersReused != 2 || sum.ChaptersCreated != 0 {
		t.Errorf("chapters not reused: %+v", sum)
	}
}

func TestRun_SkipsVideosAlreadyOnWiki(t *testing.T) {
	w := testutil.NewFakeWiki(t, testBookID)
	ch := w.AddChapter("Basics")
	w.AddPage("Old title", embedHTML(testutil.VideoID(1)), ch)
	w.AddPage("Unrelated", "<p>no video here</p>", 0)

	sum, err := newSyncer(t, channel(), w).Run(context.Background(), Options{BookID: testBookID})
	if err != nil {
		t.Fatal(err)
	}
	if sum.PagesSkipped != 1 || sum.PagesCreated != 4 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if sum.ChaptersReused != 1 || sum.ChaptersCreated != 1 {
		t.Errorf("unexpected chapter counts: %+v", sum)
	}
	for _, entry := range w.Log() {
		if entry == "create chapter Basics" {
			t.Error("existing chapter was recreated")
		}
	}
}

func TestRun_VideoInTwoPlaylistsCreatedOnce(t *testing.T) {
	shared := testutil.Video(1, "Shared")
	src := &testutil.FakeSource{
		Uploads: []models.Video{shared},
		Lists: []models.Playlist{
			{ID: "PL1", Title: "One", Videos: []models.Video{shared}},
			{ID: "PL2", Title: "Two", Videos: []models.Video{shared}},
		},
	}
	w := testutil.NewFakeWiki(t, testBookID)

	sum, err := newSyncer(t, src, w).Run(context.Background(), Options{BookID: testBookID})
	if err != nil {
		t.Fatal(err)
	}
	if pages := w.Pages(); len(pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(pages))
	}
	if sum.PagesCreated != 1 || sum.PagesSkipped != 1 {
		t.Errorf("unexpected summary: %+v", sum)
	}
}

func TestRun_AtMostOnePagePerVideo(t *testing.T) {
	w := testutil.NewFakeWiki(t, testBookID)
	w.AddPage("Seeded", embedHTML(testutil.VideoID(3)), 0)
	s := newSyncer(t, channel(), w)

	for range 3 {
		if _, err := s.Run(context.Background(), Options{BookID: testBookID}); err != nil {
			t.Fatal(err)
		}
	}
	for id, pages := range pagesByVideo(t, w) {
		if len(pages) != 1 {
			t.Errorf("video %s has %d pages", id, len(pages))
		}
	}
}

func TestRun_ForceResyncWipesBeforeCreating(t *testing.T) {
	w := testutil.NewFakeWiki(t, testBookID)
	ch := w.AddChapter("Basics")
	nested := w.AddPage("Nested", embedHTML(testutil.VideoID(1)), ch)
	root := w.AddPage("Root", embedHTML(testutil.VideoID(5)), 0)

	sum, err := newSyncer(t, channel(), w).Run(context.Background(), Options{BookID: testBookID, ForceResync: true})
	if err != nil {
		t.Fatal(err)
	}

	log := w.Log()
	firstCreate := -1
	for i, entry := range log {
		if strings.HasPrefix(entry, "create ") {
			firstCreate = i
			break
		}
	}
	if firstCreate != 3 {
		t.Fatalf("expected 3 deletes before the first create, log: %v", log)
	}
	wantDeletes := map[string]bool{
		"delete page " + strconv.Itoa(nested) + " hard": true,
		"delete page " + strconv.Itoa(root) + " hard":   true,
	}
	for _, entry := range log[:2] {
		if !wantDeletes[entry] {
			t.Errorf("unexpected delete %q", entry)
		}
	}
	if log[2] != "delete chapter "+strconv.Itoa(ch) {
		t.Errorf("chapter not deleted after pages: %v", log[:3])
	}

	if sum.PagesDeleted != 2 || sum.ChaptersDeleted != 1 {
		t.Errorf("unexpected delete counts: %+v", sum)
	}
	if sum.PagesCreated != 5 || sum.PagesSkipped != 0 || sum.ChaptersCreated != 2 {
		t.Errorf("unexpected create counts: %+v", sum)
	}
	if len(w.Pages()) != 5 {
		t.Errorf("expected 5 pages after resync, got %d", len(w.Pages()))
	}
}

func TestRun_ForceResyncReusesChapterThatSurvivedWipe(t *testing.T) {
	w := testutil.NewFakeWiki(t, testBookID)
	ch := w.AddChapter("Basics")
	w.AddPage("Nested", embedHTML(testutil.VideoID(1)), ch)
	w.FailDeletes(func(id int) bool { return id == ch })

	sum, err := newSyncer(t, channel(), w).Run(context.Background(), Options{BookID: testBookID, ForceResync: true})
	if err != nil {
		t.Fatal(err)
	}
	if sum.DeleteFailures != 1 || sum.PagesDeleted != 1 {
		t.Errorf("unexpected delete counts: %+v", sum)
	}
	if sum.ChaptersReused != 1 || sum.ChaptersCreated != 1 {
		t.Errorf("chapter counts = reused %d created %d, want 1 and 1", sum.ChaptersReused, sum.ChaptersCreated)
	}
	named := 0
	for _, c := range w.Chapters() {
		if c.Name == "Basics" {
			named++
		}
	}
	if named != 1 {
		t.Errorf("book has %d chapters named Basics: %+v", named, w.Chapters())
	}
	for _, p := range w.Pages() {
		if id, _ := embed.VideoID(p.HTML); id == testutil.VideoID(1) && p.ChapterID != ch {
			t.Errorf("video 1 page in chapter %d, want %d", p.ChapterID, ch)
		}
	}
}

func TestRun_ForceResyncSkipsPagesThatSurvivedWipe(t *testing.T) {
	w := testutil.NewFakeWiki(t, testBookID)
	root := w.AddPage("Root", embedHTML(testutil.VideoID(5)), 0)
	w.AddPage("Other", embedHTML(testutil.VideoID(2)), 0)
	w.FailDeletes(func(id int) bool { return id == root })

	sum, err := newSyncer(t, channel(), w).Run(context.Background(), Options{BookID: testBookID, ForceResync: true})
	if err != nil {
		t.Fatal(err)
	}
	if sum.PagesDeleted != 1 || sum.PagesSkipped != 1 || sum.PagesCreated != 4 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	for id, pages := range pagesByVideo(t, w) {
		if len(pages) != 1 {
			t.Errorf("video %s has %d pages", id, len(pages))
		}
	}
}

func TestRun_ScanLogsCarryRunAttributes(t *testing.T) {
	w := testutil.NewFakeWiki(t, testBookID)
	w.AddPage("Existing", embedHTML(testutil.VideoID(1)), 0)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	s := New(channel(), wikiClient(t, w), logger)
	if _, err := s.Run(context.Background(), Options{BookID: testBookID, DryRun: true}); err != nil {
		t.Fatal(err)
	}

	var found bool
	for _, line := range strings.Split(buf.String(), "\n") {
		if !strings.Contains(line, `"scan: existing pages mapped"`) {
			continue
		}
		found = true
		if !strings.Contains(line, `"book_id":7`) || !strings.Contains(line, `"dry_run":true`) {
			t.Errorf("scan line lacks run attributes: %s", line)
		}
	}
	if !found {
		t.Fatalf("no scan line logged:\n%s", buf.String())
	}
}

func TestRun_ChapterFailureSkipsPlaylist(t *testing.T) {
	w := testutil.NewFakeWiki(t, testBookID)
	w.FailChapter = func(name string) bool { return name == "Basics" }

	sum, err := newSyncer(t, channel(), w).Run(context.Background(), Options{BookID: testBookID})
	if err != nil {
		t.Fatal(err)
	}
	if sum.ChaptersFailed != 1 || sum.ChaptersCreated != 1 {
		t.Errorf("unexpected chapter counts: %+v", sum)
	}
	pages := pagesByVideo(t, w)
	for _, n := range []int{1, 2} {
		if _, ok := pages[testutil.VideoID(n)]; ok {
			t.Errorf("video %d synced despite failed chapter", n)
		}
	}
	if len(pages) != 3 {
		t.Errorf("expected 3 pages, got %d", len(pages))
	}
}

func TestRun_PageFailureContinues(t *testing.T) {
	w := testutil.NewFakeWiki(t, testBookID)
	w.FailPage = func(name string) bool { return name == "Video C" }

	sum, err := newSyncer(t, channel(), w).Run(context.Background(), Options{BookID: testBookID})
	if err != nil {
		t.Fatal(err)
	}
	if sum.PagesFailed != 1 || sum.PagesCreated != 4 {
		t.Errorf("unexpected summary: %+v", sum)
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	w := testutil.NewFakeWiki(t, testBookID)
	w.AddPage("Seeded", embedHTML(testutil.VideoID(2)), 0)

	var events []Event
	s := newSyncer(t, channel(), w, WithObserver(func(e Event) { events = append(events, e) }))
	sum, err := s.Run(context.Background(), Options{BookID: testBookID, DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if log := w.Log(); len(log) != 0 {
		t.Errorf("dry run mutated the wiki: %v", log)
	}
	if !sum.DryRun || sum.PagesCreated != 4 || sum.PagesSkipped != 1 || sum.ChaptersCreated != 2 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	for _, e := range events {
		if !e.Planned {
			t.Errorf("event %+v not marked planned", e)
		}
	}
}

func TestRun_DryRunForceReportsDeletes(t *testing.T) {
	w := testutil.NewFakeWiki(t, testBookID)
	ch := w.AddChapter("Basics")
	w.AddPage("Nested", embedHTML(testutil.VideoID(1)), ch)

	sum, err := newSyncer(t, channel(), w).Run(context.Background(), Options{BookID: testBookID, DryRun: true, ForceResync: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(w.Log()) != 0 {
		t.Errorf("dry run mutated the wiki: %v", w.Log())
	}
	if sum.PagesDeleted != 1 || sum.ChaptersDeleted != 1 || sum.PagesCreated != 5 {
		t.Errorf("unexpected summary: %+v", sum)
	}
}

func TestRun_NothingToSync(t *testing.T) {
	w := testutil.NewFakeWiki(t, testBookID)

	_, err := newSyncer(t, &testutil.FakeSource{NoUploads: true}, w).Run(context.Background(), Options{BookID: testBookID})
	if !errors.Is(err, ErrNothingToSync) {
		t.Fatalf("expected ErrNothingToSync, got %v", err)
	}

	_, err = newSyncer(t, &testutil.FakeSource{}, w).Run(context.Background(), Options{BookID: testBookID})
	if !errors.Is(err, ErrNothingToSync) {
		t.Fatalf("expected ErrNothingToSync for empty channel, got %v", err)
	}
	if len(w.Log()) != 0 {
		t.Errorf("wiki mutated: %v", w.Log())
	}
}

func TestRun_UnreadableBookStillSyncs(t *testing.T) {
	w := testutil.NewFakeWiki(t, testBookID)
	w.FailBook = true

	sum, err := newSyncer(t, channel(), w).Run(context.Background(), Options{BookID: testBookID})
	if err != nil {
		t.Fatal(err)
	}
	if sum.PagesCreated != 5 {
		t.Errorf("unexpected summary: %+v", sum)
	}
}

func TestRun_Cancelled(t *testing.T) {
	w := testutil.NewFakeWiki(t, testBookID)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newSyncer(t, channel(), w).Run(ctx, Options{BookID: testBookID})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(w.Log()) != 0 {
		t.Errorf("cancelled run mutated the wiki: %v", w.Log())
	}
}

func TestRun_ObserverSeesCreations(t *testing.T) {
	w := testutil.NewFakeWiki(t, testBookID)
	var kinds []string
	s := newSyncer(t, channel(), w, WithObserver(func(e Event) {
		kinds = append(kinds, e.Kind)
		if e.Kind == EventPageCreated && (e.PageID == 0 || e.Checksum == "") {
			t.Errorf("page event missing details: %+v", e)
		}
	}))
	if _, err := s.Run(context.Background(), Options{BookID: testBookID}); err != nil {
		t.Fatal(err)
	}
	want := []string{
		EventChapterCreated, EventPageCreated, EventPageCreated,
		EventChapterCreated, EventPageCreated, EventPageCreated,
		EventPageCreated,
	}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", kinds, want)
	}
}

func TestRun_AppendVideoID(t *testing.T) {
	w := testutil.NewFakeWiki(t, testBookID)
	src := &testutil.FakeSource{Uploads: []models.Video{testutil.Video(9, "  Solo  ")}}

	if _, err := newSyncer(t, src, w).Run(context.Background(), Options{BookID: testBookID, AppendVideoID: true}); err != nil {
		t.Fatal(err)
	}
	pages := w.Pages()
	if len(pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(pages))
	}
	want := "Solo (YouTube ID: " + testutil.VideoID(9) + ")"
	if pages[0].Name != want {
		t.Errorf("name = %q, want %q", pages[0].Name, want)
	}
}
