// Package policy evaluates rego release policies against a prospective release.
package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/rego"
)

// DefaultQuery is the rule set consulted for deny and warn lists.
const DefaultQuery = "data.semrel.release"

type Mode string

const (
	ModeEnforce Mode = "enforce"
	ModeWarn    Mode = "warn"
)

// ParseMode maps "" to enforce.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeEnforce:
		return ModeEnforce, nil
	case ModeWarn:
		return ModeWarn, nil
	default:
		return "", fmt.Errorf("unknown policy mode %q (want enforce or warn)", raw)
	}
}

// Commit is the policy view of one classified history record.
type Commit struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Scope    string `json:"scope,omitempty"`
	Subject  string `json:"subject"`
	Breaking bool   `json:"breaking,omitempty"`
	Severity string `json:"severity"`
}

// Input is the document exposed to rego as `input`.
type Input struct {
	WhenUTC         time.Time      `json:"whenUtc"`
	Branch          string         `json:"branch"`
	Channel         string         `json:"channel"`
	Prerelease      bool           `json:"prerelease"`
	Version         string         `json:"version"`
	PreviousVersion string         `json:"previousVersion,omitempty"`
	Tag             string         `json:"tag"`
	Severity        string         `json:"severity"`
	Head            string         `json:"head,omitempty"`
	Commits         []Commit       `json:"commits,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
}

type Violation struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Subject string `json:"subject,omitempty"`
}

func (v Violation) String() string {
	msg := v.Message
	if v.Code != "" {
		msg = v.Code + ": " + msg
	}
	if v.Subject != "" {
		msg += " (" + v.Subject + ")"
	}
	return msg
}

type Report struct {
	PolicyRef   string      `json:"policyRef,omitempty"`
	Mode        Mode        `json:"mode"`
	Passed      bool        `json:"passed"`
	DenyCount   int         `json:"denyCount"`
	WarnCount   int         `json:"warnCount"`
	Deny        []Violation `json:"deny,omitempty"`
	Warn        []Violation `json:"warn,omitempty"`
	EvaluatedAt time.Time   `json:"evaluatedAt"`
}

// Blocking reports whether deny violations stop the release in the report mode.
func (r *Report) Blocking() bool {
	return r != nil && r.Mode == ModeEnforce && r.DenyCount > 0
}

// Err summarises deny violations, nil when the report passed.
func (r *Report) Err() error {
	if r == nil || r.Passed {
		return nil
	}
	msgs := make([]string, 0, len(r.Deny))
	for _, v := range r.Deny {
		msgs = append(msgs, v.String())
	}
	return fmt.Errorf("policy denied release: %s", strings.Join(msgs, "; "))
}

func Evaluate(ctx context.Context, bundle *Bundle, input Input, mode Mode) (*Report, error) {
	return EvaluateWithQuery(ctx, bundle, input, mode, DefaultQuery)
}

func EvaluateWithQuery(ctx context.Context, bundle *Bundle, input Input, mode Mode, query string) (*Report, error) {
	if bundle == nil {
		return nil, errors.New("policy bundle is required")
	}
	input.Data = bundle.Data
	modules, err := loadRegoModules(bundle.Dir)
	if err != nil {
		return nil, err
	}
	if query = strings.TrimSpace(query); query == "" {
		query = DefaultQuery
	}
	if mode == "" {
		mode = ModeEnforce
	}
	opts := []func(*rego.Rego){
		rego.Query(query),
		rego.Input(input),
	}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}
	rs, err := rego.New(opts...).Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", query, err)
	}
	out := &Report{
		PolicyRef:   bundle.Ref,
		Mode:        mode,
		Passed:      true,
		EvaluatedAt: time.Now().UTC(),
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return out, nil
	}
	obj, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return out, nil
	}
	out.Deny = violations(obj["deny"])
	out.Warn = violations(obj["warn"])
	out.DenyCount = len(out.Deny)
	out.WarnCount = len(out.Warn)
	out.Passed = out.DenyCount == 0
	return out, nil
}

// violations accepts a rego set or array of strings or {code,message,subject} objects.
func violations(v any) []Violation {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Violation, 0, len(list))
	for _, entry := range list {
		switch t := entry.(type) {
		case string:
			out = append(out, Violation{Message: t})
		case map[string]any:
			viol := Violation{}
			viol.Message, _ = t["message"].(string)
			viol.Code, _ = t["code"].(string)
			viol.Subject, _ = t["subject"].(string)
			if viol.Message == "" {
				viol.Message = fmt.Sprintf("%v", t)
			}
			out = append(out, viol)
		default:
			out = append(out, Violation{Message: fmt.Sprintf("%v", t)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Message < out[j].Message })
	return out
}

func loadRegoModules(dir string) (map[string]string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("policy dir is required")
	}
	out := map[string]string{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".rego") {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(raw)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no .rego modules found under %s", dir)
	}
	return out, nil
}
