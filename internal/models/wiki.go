package models

// Chapter is a wiki chapter inside a book.
type Chapter struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	BookID int    `json:"book_id"`
}

// Page is a wiki page. ChapterID is zero for pages at the book root.
type Page struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	HTML      string `json:"html,omitempty"`
	BookID    int    `json:"book_id"`
	ChapterID int    `json:"chapter_id,omitempty"`
}

// Tag is a wiki page tag.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Order int    `json:"order"`
}
