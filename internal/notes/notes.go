// File: internal/notes/notes.go
// Brief: Groups classified history into release-note sections and renders them.

package notes

import (
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/example/semrel/internal/analyzer"
)

// Section titles, in rendering order.
const (
	TitleBreaking = "Breaking Changes"
	TitleFeatures = "Features"
	TitleFixes    = "Bug Fixes"
	TitleOther    = "Other Changes"
)

var sectionOrder = []struct {
	title    string
	severity analyzer.Severity
}{
	{TitleBreaking, analyzer.Major},
	{TitleFeatures, analyzer.Minor},
	{TitleFixes, analyzer.Patch},
	{TitleOther, analyzer.None},
}

type Entry struct {
	ID      string
	Scope   string
	Subject string
}

// ShortID returns the abbreviated record id.
func (e Entry) ShortID() string {
	if len(e.ID) > 7 {
		return e.ID[:7]
	}
	return e.ID
}

type Section struct {
	Title    string
	Severity analyzer.Severity
	Entries  []Entry
}

// Document is the grouped input handed to a Renderer.
type Document struct {
	Version  string
	Tag      string
	Channel  string
	Date     time.Time
	Sections []Section
}

// Renderer turns a grouped document into text. Implementations must be pure.
type Renderer interface {
	Render(doc Document) (string, error)
}

// Group buckets records by severity rank. Within a section the input order is kept,
// so chronological input yields chronological sections. Empty sections are dropped.
func Group(records []analyzer.Classified) []Section {
	var out []Section
	for _, s := range sectionOrder {
		matched := lo.Filter(records, func(c analyzer.Classified, _ int) bool {
			return c.Severity == s.severity
		})
		if len(matched) == 0 {
			continue
		}
		out = append(out, Section{
			Title:    s.title,
			Severity: s.severity,
			Entries: lo.Map(matched, func(c analyzer.Classified, _ int) Entry {
				subject := strings.TrimSpace(c.Record.Subject)
				if subject == "" {
					subject = firstLine(c.Record.Message)
				}
				return Entry{ID: c.Record.ID, Scope: c.Record.Scope, Subject: subject}
			}),
		})
	}
	return out
}

// Newest returns the latest record timestamp, zero for no records.
func Newest(records []analyzer.Classified) time.Time {
	var newest time.Time
	for _, c := range records {
		if c.Record.Timestamp.After(newest) {
			newest = c.Record.Timestamp
		}
	}
	return newest
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}

// Generator builds documents and renders them.
type Generator struct {
	renderer Renderer
}

func NewGenerator(r Renderer) *Generator {
	if r == nil {
		r = NewMarkdownRenderer()
	}
	return &Generator{renderer: r}
}

// Generate renders notes for version. The document date is the newest record's
// timestamp so identical input always renders identically.
func (g *Generator) Generate(version, tag, channel string, records []analyzer.Classified) (string, error) {
	doc := Document{
		Version:  version,
		Tag:      tag,
		Channel:  channel,
		Date:     Newest(records).UTC(),
		Sections: Group(records),
	}
	return g.renderer.Render(doc)
}
