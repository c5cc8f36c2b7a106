package analyzer

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Parsed is the convention-level view of a change message.
type Parsed struct {
	Type     string
	Scope    string
	Subject  string
	Body     string
	Breaking bool
}

// Parser turns a raw message into its convention fields. ok is false when the
// message does not follow the grammar.
type Parser interface {
	Parse(message string) (Parsed, bool)
}

var headerPattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9-]*)(?:\(([^()\r\n]*)\))?(!)?: +(\S.*)$`)

var breakingFooters = []string{"BREAKING CHANGE:", "BREAKING-CHANGE:"}

// ConventionalParser implements the `type(scope)!: subject` header grammar with
// BREAKING CHANGE footers.
type ConventionalParser struct{}

func (ConventionalParser) Parse(message string) (Parsed, bool) {
	message = norm.NFC.String(strings.ReplaceAll(message, "\r\n", "\n"))
	message = strings.TrimSpace(message)
	header, body, _ := strings.Cut(message, "\n")
	m := headerPattern.FindStringSubmatch(strings.TrimSpace(header))
	if m == nil {
		return Parsed{Subject: strings.TrimSpace(header), Body: strings.TrimSpace(body)}, false
	}
	p := Parsed{
		Type:     strings.ToLower(m[1]),
		Scope:    strings.TrimSpace(m[2]),
		Subject:  strings.TrimSpace(m[4]),
		Body:     strings.TrimSpace(body),
		Breaking: m[3] == "!",
	}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		for _, footer := range breakingFooters {
			if strings.HasPrefix(line, footer) {
				p.Breaking = true
			}
		}
	}
	return p, true
}
