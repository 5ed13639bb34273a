package search

// Result is a single search hit returned to the caller.
type Result struct {
	NoteID           string `json:"noteId"`
	TypeID           string `json:"typeId"`
	Snippet          string `json:"snippet"`
	NotebookID       string `json:"notebookId"`
	NotebookNickname string `json:"notebookNickname"`
	PageNumber       int    `json:"pageNumber"`
}

// Query describes a search request. UserID is mandatory: results are
// always scoped to the requesting user's notes.
type Query struct {
	Text       string
	UserID     string
	NotebookID string // empty = all notebooks
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over notes.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push note records into a search index.
type Indexer interface {
	IndexNote(n NoteRecord) error
	DeleteNote(id string) error
}

// NoteRecord is the data we index for a note.
type NoteRecord struct {
	ID               string `json:"id"`
	Content          string `json:"content"`
	TypeID           string `json:"typeId"`
	UserID           string `json:"userId"`
	NotebookID       string `json:"notebookId"`
	NotebookNickname string `json:"notebookNickname"`
	PageNumber       int    `json:"pageNumber"`
}
