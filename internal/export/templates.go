package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"formatDuration": formatDuration,
	}

	templateContent, err := templateFS.ReadFile("templates/pages.html")
	if err != nil {
		// Fallback to built-in template if file not found
		pageTemplate = template.Must(template.New("pages").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	pageTemplate = template.Must(template.New("pages").Funcs(funcMap).Parse(string(templateContent)))
}

// formatDuration renders a voice-note length as m:ss.
func formatDuration(seconds *int) string {
	if seconds == nil {
		return ""
	}
	s := *seconds
	if s < 0 {
		s = 0
	}
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

// RenderHTML renders the export template with the assembled document.
func RenderHTML(doc Document) (string, error) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div>{{.NotebookNickname}} | {{.GeneratedAt.Format "Jan 2, 2006"}}</div>
  {{range .Pages}}
  <h2>Page {{.Number}}</h2>
  {{range .Notes}}<div>{{.Content}}</div>{{end}}
  {{end}}
</body>
</html>`
