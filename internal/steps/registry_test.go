package steps

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/example/semrel/internal/errdefs"
	"github.com/example/semrel/internal/pipeline"
)

func TestNames(t *testing.T) {
	want := []string{"changelog", "exec", "git", "github", "image", "policy"}
	if diff := cmp.Diff(want, Names()); diff != "" {
		t.Fatalf("Names mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildKeepsConfiguredOrder(t *testing.T) {
	entries, err := Build(
		[]string{"changelog", "exec"},
		map[string]map[string]any{
			"exec": {"publishCmd": "echo done", "timeout": "30s"},
		},
		Deps{Root: t.TempDir()},
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Name != "changelog" || entries[1].Name != "exec" {
		t.Fatalf("unexpected order: %s, %s", entries[0].Name, entries[1].Name)
	}
	if entries[1].Timeout != 30*time.Second {
		t.Fatalf("timeout=%s", entries[1].Timeout)
	}
	want := pipeline.Capabilities{Publish: true}
	if entries[1].Capabilities != want {
		t.Fatalf("exec capabilities=%s", entries[1].Capabilities)
	}
}

func TestBuildRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name    string
		steps   []string
		options map[string]map[string]any
		field   string
	}{
		{name: "unknown step", steps: []string{"npm"}, field: "steps[0]"},
		{name: "duplicate", steps: []string{"changelog", "changelog"}, field: "steps"},
		{name: "stray options", steps: []string{"changelog"}, options: map[string]map[string]any{"github": {"draft": true}}, field: "stepOptions"},
		{name: "unknown key", steps: []string{"changelog"}, options: map[string]map[string]any{"changelog": {"file": "x.md"}}, field: "stepOptions.changelog"},
		{name: "bad timeout", steps: []string{"changelog"}, options: map[string]map[string]any{"changelog": {"timeout": "soon"}}, field: "stepOptions.changelog.timeout"},
		{name: "image without source", steps: []string{"image"}, field: "stepOptions.image.source"},
		{name: "bad policy mode", steps: []string{"policy"}, options: map[string]map[string]any{"policy": {"mode": "audit"}}, field: "stepOptions.policy.mode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build(tc.steps, tc.options, Deps{Root: t.TempDir()})
			var cfgErr *errdefs.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tc.field {
				t.Fatalf("field=%q want %q", cfgErr.Field, tc.field)
			}
		})
	}
}

func TestUnknownStepListsKnownSteps(t *testing.T) {
	_, err := Build([]string{"npm"}, nil, Deps{})
	if err == nil || !strings.Contains(err.Error(), "github") {
		t.Fatalf("expected known steps in error, got %v", err)
	}
}

func TestExpand(t *testing.T) {
	rc := testContext()
	rc.Channel.Name = "beta"
	got := expand("app:${version} ${tag}@${channel}/${head}", rc)
	if got != "app:1.3.0 v1.3.0@beta/0123456789abcdef" {
		t.Fatalf("expand=%q", got)
	}
}
