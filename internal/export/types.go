// Package export renders notebook pages as HTML or PDF.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// Document is the assembled content to render: one or more pages of a
// notebook, each with its notes.
type Document struct {
	Title            string
	NotebookNickname string
	GeneratedAt      time.Time
	Pages            []Page
}

// Page is a single notebook page for export
type Page struct {
	Number int
	Notes  []Note
}

// Note is one note entry on a page
type Note struct {
	TypeName  string
	Content   string
	Duration  *int
	FileURL   *string
	CreatedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrUnsupportedFormat indicates an unknown export format was requested.
	ErrUnsupportedFormat = errors.New("unsupported export format")
)
