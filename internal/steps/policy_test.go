package steps

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/semrel/internal/analyzer"
	"github.com/example/semrel/internal/pipeline"
	"github.com/example/semrel/internal/policy"
	"github.com/example/semrel/internal/versioning"
)

const releasePolicy = `package semrel.release

deny[msg] {
	input.severity == "major"
	not input.prerelease
	not input.data.allowMajor
	msg := sprintf("major release %s needs approval", [input.version])
}

warn[msg] {
	c := input.commits[_]
	c.type == ""
	msg := sprintf("commit %s is not conventional", [c.id])
}
`

func writePolicy(t *testing.T, root string) {
	t.Helper()
	dir := filepath.Join(root, ".semrel", "policy")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "release.rego"), []byte(releasePolicy), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestPolicyStepBlocksMajorRelease(t *testing.T) {
	root := t.TempDir()
	writePolicy(t, root)
	step := buildStep(t, "policy", map[string]any{"report": "policy-report.json"}, Deps{Root: root})

	rc := testContext()
	if err := step.(pipeline.Verifier).Verify(context.Background(), rc); err != nil {
		t.Fatalf("minor release should pass: %v", err)
	}

	rc.Severity = analyzer.Major
	rc.NextVersion = versioning.Version{Major: 2}
	err := step.(pipeline.Verifier).Verify(context.Background(), rc)
	if err == nil || !strings.Contains(err.Error(), "major release 2.0.0 needs approval") {
		t.Fatalf("expected deny, got %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(root, "policy-report.json"))
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	var rep policy.Report
	if err := json.Unmarshal(raw, &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.DenyCount != 1 || rep.Passed {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestPolicyStepWarnMode(t *testing.T) {
	root := t.TempDir()
	writePolicy(t, root)
	step := buildStep(t, "policy", map[string]any{"mode": "warn"}, Deps{Root: root})
	rc := testContext()
	rc.Severity = analyzer.Major
	rc.NextVersion = versioning.Version{Major: 2}
	if err := step.(pipeline.Verifier).Verify(context.Background(), rc); err != nil {
		t.Fatalf("warn mode should not block: %v", err)
	}
}

func TestPolicyStepMissingBundle(t *testing.T) {
	step := buildStep(t, "policy", nil, Deps{Root: t.TempDir()})
	if err := step.(pipeline.Verifier).Verify(context.Background(), testContext()); err == nil {
		t.Fatalf("expected missing bundle error")
	}
}

func TestPolicyInputCarriesCommits(t *testing.T) {
	in := policyInput(testContext(), testNow)
	if len(in.Commits) != 1 || in.Commits[0].Type != "feat" || in.Commits[0].Severity != "minor" {
		t.Fatalf("unexpected commits: %+v", in.Commits)
	}
	if in.Version != "1.3.0" || in.Tag != "v1.3.0" || in.Channel != "main" {
		t.Fatalf("unexpected input: %+v", in)
	}
}
