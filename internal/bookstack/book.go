package bookstack

import "github.com/starford/tubestack/internal/models"

// Content item types in a book's contents tree.
const (
	TypePage    = "page"
	TypeChapter = "chapter"
)

// ContentItem is one node of the book contents tree.
type ContentItem struct {
	ID        int           `json:"id"`
	Name      string        `json:"name"`
	Slug      string        `json:"slug"`
	Type      string        `json:"type"`
	BookID    int           `json:"book_id"`
	ChapterID int           `json:"chapter_id"`
	Pages     []ContentItem `json:"pages,omitempty"`
}

// Book is the response of GET /api/books/{id}.
type Book struct {
	ID       int           `json:"id"`
	Name     string        `json:"name"`
	Slug     string        `json:"slug"`
	Contents []ContentItem `json:"contents"`
}

// Pages returns every page in the book, including pages inside chapters.
func (b *Book) Pages() []models.Page {
	return collectPages(b.Contents, b.ID, 0)
}

func collectPages(items []ContentItem, bookID, chapterID int) []models.Page {
	var out []models.Page
	for _, it := range items {
		switch it.Type {
		case TypePage:
			cid := it.ChapterID
			if cid == 0 {
				cid = chapterID
			}
			out = append(out, models.Page{ID: it.ID, Name: it.Name, BookID: bookID, ChapterID: cid})
		case TypeChapter:
			out = append(out, collectPages(it.Pages, bookID, it.ID)...)
		}
	}
	return out
}

// Chapters returns every chapter in the book, top-level and nested,
// each ID at most once.
func (b *Book) Chapters() []models.Chapter {
	seen := make(map[int]struct{})
	var out []models.Chapter
	var walk func(items []ContentItem)
	walk = func(items []ContentItem) {
		for _, it := range items {
			if it.Type != TypeChapter {
				continue
			}
			if _, ok := seen[it.ID]; !ok {
				seen[it.ID] = struct{}{}
				out = append(out, models.Chapter{ID: it.ID, Name: it.Name, BookID: b.ID})
			}
			walk(it.Pages)
		}
	}
	walk(b.Contents)
	return out
}

// ChapterIDsByName maps top-level chapter names to their IDs. When two
// chapters share a name the first one wins.
func (b *Book) ChapterIDsByName() map[string]int {
	out := make(map[string]int)
	for _, it := range b.Contents {
		if it.Type != TypeChapter {
			continue
		}
		if _, ok := out[it.Name]; !ok {
			out[it.Name] = it.ID
		}
	}
	return out
}
