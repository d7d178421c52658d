package search

import "time"

// Result is a single page hit returned to the caller.
type Result struct {
	PageID  string `json:"page_id"`
	Slug    string `json:"slug"`
	Name    string `json:"name"`
	Snippet string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// PageRecord is the data we index for a page: its name and the text of
// every non-empty cell in grid order.
type PageRecord struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	Content   string `json:"content"`
	UpdatedAt int64  `json:"updatedAt"`
}

func NewPageRecord(id, slug, name, content string, updatedAt time.Time) PageRecord {
	return PageRecord{ID: id, Slug: slug, Name: name, Content: content, UpdatedAt: updatedAt.Unix()}
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
