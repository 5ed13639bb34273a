package export

import (
	"strings"
	"testing"
	"time"
)

func sampleDocument() Document {
	duration := 95
	fileURL := "http://files.local/voice-recordings/usr_1/123.webm"
	return Document{
		Title:            "Lab Notebook - Pages 3-5",
		NotebookNickname: "Lab Notebook",
		GeneratedAt:      time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Pages: []Page{
			{
				Number: 3,
				Notes: []Note{
					{TypeName: "Text", Content: "Observed crystallization at 40C", CreatedAt: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)},
					{TypeName: "Voice", Content: "Voice memo", Duration: &duration, FileURL: &fileURL, CreatedAt: time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)},
				},
			},
			{Number: 4},
		},
	}
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML(sampleDocument())
	if err != nil {
		t.Fatalf("RenderHTML failed: %v", err)
	}

	for _, want := range []string{
		"Lab Notebook - Pages 3-5",
		"Page 3",
		"Observed crystallization at 40C",
		"1:35",
		"Page 4",
		"No notes on this page.",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML missing %q", want)
		}
	}
}

func TestRenderHTMLEscapesContent(t *testing.T) {
	doc := Document{
		Title:       "x",
		GeneratedAt: time.Now(),
		Pages: []Page{{
			Number: 1,
			Notes:  []Note{{TypeName: "Text", Content: "<script>alert(1)</script>", CreatedAt: time.Now()}},
		}},
	}

	html, err := RenderHTML(doc)
	if err != nil {
		t.Fatalf("RenderHTML failed: %v", err)
	}
	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Error("note content was not escaped")
	}
}

func TestExportHTMLFormat(t *testing.T) {
	svc := NewService()

	result, err := svc.Export(sampleDocument(), FormatHTML)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if result.MimeType != "text/html; charset=utf-8" {
		t.Errorf("unexpected mime type %q", result.MimeType)
	}
	if result.Filename != "Lab-Notebook---Pages-3-5.html" {
		t.Errorf("unexpected filename %q", result.Filename)
	}
	if !strings.Contains(string(result.Data), "Page 3") {
		t.Error("export data missing page content")
	}
}

func TestExportUnsupportedFormat(t *testing.T) {
	svc := NewService()

	if _, err := svc.Export(sampleDocument(), Format("odt")); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My Notebook", "My-Notebook"},
		{"notes/2026: draft?", "notes2026-draft"},
		{"", "export"},
		{"!!!", "export"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	five := 5
	long := 600
	if got := formatDuration(nil); got != "" {
		t.Errorf("formatDuration(nil) = %q", got)
	}
	if got := formatDuration(&five); got != "0:05" {
		t.Errorf("formatDuration(5) = %q", got)
	}
	if got := formatDuration(&long); got != "10:00" {
		t.Errorf("formatDuration(600) = %q", got)
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("a b<c>")
	if got != "a%20b%3Cc%3E" {
		t.Errorf("percentEncodeForDataURL = %q", got)
	}
}
