package notes

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/charmbracelet/glamour"
	"github.com/pmezard/go-difflib/difflib"
)

const markdownTemplate = `## {{ .Version }}{{ if not .Date.IsZero }} ({{ .Date.Format "2006-01-02" }}){{ end }}
{{ range .Sections }}
### {{ .Title }}

{{ range .Entries }}* {{ if .Scope }}**{{ .Scope }}:** {{ end }}{{ .Subject }}{{ if .ID }} ({{ .ShortID }}){{ end }}
{{ end }}{{ end }}`

// MarkdownRenderer renders documents with a fixed markdown template.
type MarkdownRenderer struct {
	tmpl *template.Template
}

func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{tmpl: template.Must(template.New("notes").Parse(markdownTemplate))}
}

func (r *MarkdownRenderer) Render(doc Document) (string, error) {
	var b strings.Builder
	if err := r.tmpl.Execute(&b, doc); err != nil {
		return "", fmt.Errorf("render notes: %w", err)
	}
	return b.String(), nil
}

// Preview renders markdown for a terminal of the given width.
func Preview(markdown string, width int) (string, error) {
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
	if err != nil {
		return "", fmt.Errorf("notes preview: %w", err)
	}
	out, err := r.Render(markdown)
	if err != nil {
		return "", fmt.Errorf("notes preview: %w", err)
	}
	return out, nil
}

// Diff returns a unified diff from previous to current; empty when they match.
func Diff(previous, current string) (string, error) {
	if previous == current {
		return "", nil
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(previous),
		B:        difflib.SplitLines(current),
		FromFile: "recorded",
		ToFile:   "computed",
		Context:  3,
	})
}
