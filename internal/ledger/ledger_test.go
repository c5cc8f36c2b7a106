package ledger

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/example/semrel/internal/channel"
	"github.com/example/semrel/internal/pipeline"
	"github.com/example/semrel/internal/release"
	"github.com/example/semrel/internal/versioning"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), "", false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func releasedContext(runID string) *release.Context {
	return &release.Context{
		RunID:       runID,
		Channel:     channel.Channel{Name: "main"},
		NextVersion: versioning.Version{Major: 1, Minor: 3},
		Tag:         "v1.3.0",
		Notes:       "## 1.3.0 (2024-05-01)\n",
		Artifacts:   map[string]string{"github": "https://example.test/r/1"},
	}
}

func TestOpenCreatesDefaultPath(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, "", false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if _, err := os.Stat(filepath.Join(root, DefaultRelPath)); err != nil {
		t.Fatalf("ledger file missing: %v", err)
	}
	if _, err := Open(t.TempDir(), "", true); err == nil {
		t.Fatalf("read-only open of a missing ledger must fail")
	}
}

func TestRunLifecycle(t *testing.T) {
	s := openTemp(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.CreateRun(ctx, "run-1", "main", "main", "ci@host:1"); err != nil {
		t.Fatalf("create run: %v", err)
	}
	em := &pipeline.Emitter{RunID: "run-1", Observers: []pipeline.Observer{s.Observer(ctx, logr.Discard())}}
	em.Emit(pipeline.Event{Type: pipeline.RunStarted})
	em.Emit(pipeline.Event{Type: pipeline.StepFailed, Phase: pipeline.PhasePublish, Step: "github", Error: "502"})

	out := release.Outcome{
		RunID:   "run-1",
		Status:  release.StatusFailed,
		Channel: "main",
		Version: "1.3.0",
		Tag:     "v1.3.0",
		Err:     errors.New("github step \"publish\" failed"),
		Steps: []release.StepResult{
			{Step: "git", Status: release.StepPublished, ArtifactRef: "v1.3.0", Duration: 20 * time.Millisecond},
			{Step: "github", Status: release.StepFailed, Err: errors.New("502")},
			{Step: "exec", Status: release.StepSkipped},
		},
	}
	if err := s.FinishRun(ctx, out); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	runs, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != "failed" || runs[0].Version != "1.3.0" || runs[0].Owner != "ci@host:1" {
		t.Fatalf("unexpected runs %+v", runs)
	}

	steps, err := s.Steps(ctx, "run-1")
	if err != nil {
		t.Fatalf("steps: %v", err)
	}
	if len(steps) != 3 || steps[1].Status != release.StepFailed || steps[1].Detail() != "502" || steps[2].Step != "exec" {
		t.Fatalf("unexpected steps %+v", steps)
	}

	events, err := s.Events(ctx, "run-1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 || events[0].Type != pipeline.RunStarted || events[1].Error != "502" {
		t.Fatalf("unexpected events %+v", events)
	}

	var buf bytes.Buffer
	if err := PrintRunsTable(&buf, runs); err != nil {
		t.Fatalf("print: %v", err)
	}
	if !strings.Contains(buf.String(), "FAILED") || !strings.Contains(buf.String(), "run-1") {
		t.Fatalf("unexpected table:\n%s", buf.String())
	}
}

func TestReleaseLookup(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	rc := releasedContext("run-1")

	if got, err := s.Lookup(ctx, rc); err != nil || got != nil {
		t.Fatalf("expected miss, got %+v err=%v", got, err)
	}
	if latest, err := s.LatestRelease(ctx, "main"); err != nil || latest != nil {
		t.Fatalf("expected no latest release, got %+v err=%v", latest, err)
	}
	if err := s.RecordRelease(ctx, rc); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordRelease(ctx, rc); err == nil {
		t.Fatalf("recording the same version twice must fail")
	}

	hit, err := s.Lookup(ctx, rc)
	if err != nil || hit == nil {
		t.Fatalf("expected hit, got %+v err=%v", hit, err)
	}
	if hit.Source != Source || hit.Ref != "v1.3.0" || hit.Notes != "" {
		t.Fatalf("unexpected hit %+v", hit)
	}

	drifted := releasedContext("run-2")
	drifted.Notes = "## 1.3.0 (2024-05-02)\n"
	hit, err = s.Lookup(ctx, drifted)
	if err != nil || hit == nil || hit.Notes != rc.Notes {
		t.Fatalf("expected drifted notes to be returned, got %+v err=%v", hit, err)
	}

	other := releasedContext("run-3")
	other.Channel = channel.Channel{Name: "beta", Prerelease: true}
	if hit, _ := s.Lookup(ctx, other); hit != nil {
		t.Fatalf("lookup must be scoped to the channel")
	}

	latest, err := s.LatestRelease(ctx, "main")
	if err != nil || latest == nil {
		t.Fatalf("latest: %+v err=%v", latest, err)
	}
	if latest.Version != "1.3.0" || latest.Artifacts["github"] == "" || latest.NotesDigest.Validate() != nil {
		t.Fatalf("unexpected latest %+v", latest)
	}
	if err := s.CheckpointPortable(ctx); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	var s *Store
	ctx := context.Background()
	if err := s.CreateRun(ctx, "r", "b", "c", "o"); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if rel, err := s.LatestRelease(ctx, "main"); rel != nil || err != nil {
		t.Fatalf("LatestRelease: %v %v", rel, err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestDefaultOwner(t *testing.T) {
	owner := DefaultOwner()
	if !strings.Contains(owner, ":") {
		t.Fatalf("owner %q lacks pid", owner)
	}
}
