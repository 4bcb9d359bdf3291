package knowledge

import "context"

// Document is one ranked snippet returned by the knowledge service for a
// honey jar search.
type Document struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// SearchParams carries the caller's query and access scope.
type SearchParams struct {
	Query    string
	Limit    int
	IsPublic bool
	OwnerID  string
}

// Searcher is the document-search collaborator. Implementations return
// pkg/error typed values for access-denied and unknown-jar outcomes so
// callers can treat both as recoverable misses.
type Searcher interface {
	Search(ctx context.Context, jarID string, params SearchParams) ([]Document, error)
}
