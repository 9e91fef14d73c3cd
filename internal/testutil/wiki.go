package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
)

// FakePage is a page stored by FakeWiki.
type FakePage struct {
	ID        int
	Name      string
	HTML      string
	ChapterID int
	Tags      []string
}

// FakeChapter is a chapter stored by FakeWiki.
type FakeChapter struct {
	ID          int
	Name        string
	Description string
}

// FakeWiki is an in-memory BookStack API serving a single book.
type FakeWiki struct {
	BookID int
	URL    string

	mu       sync.Mutex
	nextID   int
	chapters map[int]*FakeChapter
	pages    map[int]*FakePage
	log      []string

	// FailPage, when set, makes POST /api/pages fail with 500 for matching names.
	FailPage func(name string) bool
	// FailChapter, when set, makes POST /api/chapters fail with 500 for matching names.
	FailChapter func(name string) bool
	// FailBook makes GET /api/books/{id} fail with 500.
	FailBook bool

	failDelete func(id int) bool
}

// NewFakeWiki starts a fake wiki server that is closed with the test.
func NewFakeWiki(t *testing.T, bookID int) *FakeWiki {
	t.Helper()
	w := &FakeWiki{
		BookID:   bookID,
		nextID:   100,
		chapters: make(map[int]*FakeChapter),
		pages:    make(map[int]*FakePage),
	}
	srv := httptest.NewServer(w.router())
	t.Cleanup(srv.Close)
	w.URL = srv.URL
	return w
}

// FailDeletes makes page and chapter deletes fail with 500 for IDs matching
// fn. It may be called between requests.
func (w *FakeWiki) FailDeletes(fn func(id int) bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failDelete = fn
}

// AddChapter seeds a chapter and returns its ID.
func (w *FakeWiki) AddChapter(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.id()
	w.chapters[id] = &FakeChapter{ID: id, Name: name}
	return id
}

// AddPage seeds a page and returns its ID.
func (w *FakeWiki) AddPage(name, html string, chapterID int) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.id()
	w.pages[id] = &FakePage{ID: id, Name: name, HTML: html, ChapterID: chapterID}
	return id
}

// Pages returns all pages ordered by ID.
func (w *FakeWiki) Pages() []FakePage {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]FakePage, 0, len(w.pages))
	for _, p := range w.pages {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Chapters returns all chapters ordered by ID.
func (w *FakeWiki) Chapters() []FakeChapter {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]FakeChapter, 0, len(w.chapters))
	for _, c := range w.chapters {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Log returns the mutating calls in order, e.g. "create page Foo" or
// "delete page 101 hard".
func (w *FakeWiki) Log() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.log...)
}

func (w *FakeWiki) id() int {
	w.nextID++
	return w.nextID
}

func (w *FakeWiki) router() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.Header.Get("Authorization"), "Token ") {
				writeJSON(rw, http.StatusUnauthorized, map[string]string{"error": "unauthenticated"})
				return
			}
			next.ServeHTTP(rw, req)
		})
	})
	r.Get("/api/books/{id}", w.getBook)
	r.Get("/api/pages/{id}", w.getPage)
	r.Post("/api/pages", w.createPage)
	r.Delete("/api/pages/{id}", w.deletePage)
	r.Post("/api/chapters", w.createChapter)
	r.Delete("/api/chapters/{id}", w.deleteChapter)
	return r
}

type contentItem struct {
	ID        int           `json:"id"`
	Name      string        `json:"name"`
	Type      string        `json:"type"`
	BookID    int           `json:"book_id"`
	ChapterID int           `json:"chapter_id,omitempty"`
	Pages     []contentItem `json:"pages,omitempty"`
}

func (w *FakeWiki) getBook(rw http.ResponseWriter, req *http.Request) {
	if chi.URLParam(req, "id") != strconv.Itoa(w.BookID) {
		writeJSON(rw, http.StatusNotFound, map[string]string{"error": "book not found"})
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.FailBook {
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "boom"})
		return
	}

	byChapter := make(map[int][]contentItem)
	var ids []int
	for id := range w.pages {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	var contents []contentItem
	for _, id := range ids {
		p := w.pages[id]
		item := contentItem{ID: p.ID, Name: p.Name, Type: "page", BookID: w.BookID, ChapterID: p.ChapterID}
		if p.ChapterID != 0 {
			byChapter[p.ChapterID] = append(byChapter[p.ChapterID], item)
			continue
		}
		contents = append(contents, item)
	}
	var cids []int
	for id := range w.chapters {
		cids = append(cids, id)
	}
	sort.Ints(cids)
	for _, id := range cids {
		c := w.chapters[id]
		contents = append(contents, contentItem{ID: c.ID, Name: c.Name, Type: "chapter", BookID: w.BookID, Pages: byChapter[c.ID]})
	}
	writeJSON(rw, http.StatusOK, map[string]any{"id": w.BookID, "name": "Videos", "contents": contents})
}

func (w *FakeWiki) getPage(rw http.ResponseWriter, req *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(req, "id"))
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pages[id]
	if !ok {
		writeJSON(rw, http.StatusNotFound, map[string]string{"error": "page not found"})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"id": p.ID, "name": p.Name, "html": p.HTML, "book_id": w.BookID, "chapter_id": p.ChapterID,
	})
}

func (w *FakeWiki) createPage(rw http.ResponseWriter, req *http.Request) {
	var body struct {
		BookID    int    `json:"book_id"`
		ChapterID int    `json:"chapter_id"`
		Name      string `json:"name"`
		HTML      string `json:"html"`
		Tags      []struct {
			Name string `json:"name"`
		} `json:"tags"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.FailPage != nil && w.FailPage(body.Name) {
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "cannot create page"})
		return
	}
	if body.BookID != w.BookID {
		writeJSON(rw, http.StatusUnprocessableEntity, map[string]string{"error": "wrong book"})
		return
	}
	if body.ChapterID != 0 {
		if _, ok := w.chapters[body.ChapterID]; !ok {
			writeJSON(rw, http.StatusUnprocessableEntity, map[string]string{"error": "unknown chapter"})
			return
		}
	}
	id := w.id()
	p := &FakePage{ID: id, Name: body.Name, HTML: body.HTML, ChapterID: body.ChapterID}
	for _, t := range body.Tags {
		p.Tags = append(p.Tags, t.Name)
	}
	w.pages[id] = p
	w.log = append(w.log, "create page "+body.Name)
	writeJSON(rw, http.StatusOK, map[string]any{
		"id": id, "name": p.Name, "book_id": w.BookID, "chapter_id": p.ChapterID, "slug": strings.ToLower(p.Name),
	})
}

func (w *FakeWiki) deletePage(rw http.ResponseWriter, req *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(req, "id"))
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.pages[id]; !ok {
		writeJSON(rw, http.StatusNotFound, map[string]string{"error": "page not found"})
		return
	}
	if w.failDelete != nil && w.failDelete(id) {
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "cannot delete"})
		return
	}
	delete(w.pages, id)
	entry := fmt.Sprintf("delete page %d", id)
	if req.URL.Query().Get("hard_delete") == "true" {
		entry += " hard"
	}
	w.log = append(w.log, entry)
	rw.WriteHeader(http.StatusNoContent)
}

func (w *FakeWiki) createChapter(rw http.ResponseWriter, req *http.Request) {
	var body struct {
		BookID      int    `json:"book_id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.FailChapter != nil && w.FailChapter(body.Name) {
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "cannot create chapter"})
		return
	}
	id := w.id()
	w.chapters[id] = &FakeChapter{ID: id, Name: body.Name, Description: body.Description}
	w.log = append(w.log, "create chapter "+body.Name)
	writeJSON(rw, http.StatusOK, map[string]any{"id": id, "name": body.Name, "book_id": w.BookID})
}

func (w *FakeWiki) deleteChapter(rw http.ResponseWriter, req *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(req, "id"))
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.chapters[id]; !ok {
		writeJSON(rw, http.StatusNotFound, map[string]string{"error": "chapter not found"})
		return
	}
	if w.failDelete != nil && w.failDelete(id) {
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "cannot delete"})
		return
	}
	for pid, p := range w.pages {
		if p.ChapterID == id {
			delete(w.pages, pid)
		}
	}
	delete(w.chapters, id)
	w.log = append(w.log, fmt.Sprintf("delete chapter %d", id))
	rw.WriteHeader(http.StatusNoContent)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
