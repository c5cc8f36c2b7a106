// Package analyzer classifies history records into bump severities.
package analyzer

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/example/semrel/internal/history"
)

// Rules maps a convention type keyword to the severity it implies.
// A breaking marker always yields Major.
type Rules struct {
	Types map[string]Severity
}

// DefaultRules returns feat=minor and fix/perf/revert=patch.
func DefaultRules() Rules {
	return Rules{Types: map[string]Severity{
		"feat":   Minor,
		"fix":    Patch,
		"perf":   Patch,
		"revert": Patch,
	}}
}

// RulesFromConfig parses a type -> severity-name map on top of the defaults.
func RulesFromConfig(types map[string]string) (Rules, error) {
	rules := DefaultRules()
	for typ, raw := range types {
		key := strings.ToLower(strings.TrimSpace(typ))
		if key == "" {
			return Rules{}, fmt.Errorf("convention type must not be empty")
		}
		sev, err := ParseSeverity(raw)
		if err != nil {
			return Rules{}, fmt.Errorf("convention type %q: %w", typ, err)
		}
		rules.Types[key] = sev
	}
	return rules, nil
}

// Classify maps a parsed message to its severity.
func (r Rules) Classify(p Parsed, ok bool) Severity {
	if !ok {
		return None
	}
	if p.Breaking {
		return Major
	}
	return r.Types[p.Type]
}

// Classified pairs a record with its severity.
type Classified struct {
	Record   history.Record
	Severity Severity
}

// Result is the chronological classification of one history range.
type Result struct {
	Records  []Classified
	Severity Severity
}

type Options struct {
	Parser  Parser
	Rules   Rules
	Workers int
	Log     logr.Logger
}

type Analyzer struct {
	parser  Parser
	rules   Rules
	workers int
	log     logr.Logger
}

func New(opts Options) *Analyzer {
	parser := opts.Parser
	if parser == nil {
		parser = ConventionalParser{}
	}
	rules := opts.Rules
	if rules.Types == nil {
		rules = DefaultRules()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Analyzer{parser: parser, rules: rules, workers: workers, log: opts.Log}
}

// Analyze classifies every record. Work is spread across workers, and each result is
// written at its input index so the output order matches the input order.
func (a *Analyzer) Analyze(ctx context.Context, raws []history.Raw) (Result, error) {
	out := make([]Classified, len(raws))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i := range raws {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = a.classify(raws[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("classify history: %w", err)
	}
	agg := None
	for _, c := range out {
		agg = Max(agg, c.Severity)
	}
	a.log.V(1).Info("history classified", "records", len(out), "severity", agg.String())
	return Result{Records: out, Severity: agg}, nil
}

func (a *Analyzer) classify(raw history.Raw) Classified {
	parsed, ok := a.parser.Parse(raw.Message)
	rec := history.Record{
		ID:        raw.ID,
		Message:   raw.Message,
		Subject:   parsed.Subject,
		Body:      parsed.Body,
		Timestamp: raw.Timestamp,
	}
	if ok {
		rec.Type = parsed.Type
		rec.Scope = parsed.Scope
		rec.Breaking = parsed.Breaking
	}
	return Classified{Record: rec, Severity: a.rules.Classify(parsed, ok)}
}
