package steps

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"

	"github.com/example/semrel/internal/appconfig"
	"github.com/example/semrel/internal/pipeline"
)

func buildStep(t *testing.T, name string, opts map[string]any, deps Deps) pipeline.Step {
	t.Helper()
	var options map[string]map[string]any
	if opts != nil {
		options = map[string]map[string]any{name: opts}
	}
	entries, err := Build([]string{name}, options, deps)
	if err != nil {
		t.Fatalf("Build %s: %v", name, err)
	}
	return entries[0].Step
}

func TestGitStepTagsHeadWithoutPush(t *testing.T) {
	dir, _ := initRepo(t)
	repo := openRepo(t, dir, "")
	deps := Deps{Root: dir, Repo: repo, Git: appconfig.GitConfig{AuthorName: "release-bot", AuthorEmail: "bot@example.com"}}
	step := buildStep(t, "git", map[string]any{"push": false}, deps)

	if caps := pipeline.CapabilitiesOf(step); caps.Publish {
		t.Fatalf("push disabled should drop publish: %s", caps)
	}
	ctx := context.Background()
	rc := testContext()
	if err := step.(pipeline.Verifier).Verify(ctx, rc); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := step.(pipeline.Preparer).Prepare(ctx, rc); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	head, err := repo.Head(ctx)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if rc.Head != head {
		t.Fatalf("rc.Head=%s want %s", rc.Head, head)
	}
	existing, err := step.(pipeline.ExistenceChecker).Lookup(ctx, rc)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if existing == nil || existing.Source != "git" || existing.Ref != "v1.3.0" {
		t.Fatalf("unexpected lookup: %+v", existing)
	}
	if err := step.(pipeline.Verifier).Verify(ctx, rc); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected existing tag error, got %v", err)
	}
}

func TestGitStepRejectsDirtyTree(t *testing.T) {
	dir, _ := initRepo(t)
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	deps := Deps{Root: dir, Repo: openRepo(t, dir, "")}
	ctx := context.Background()

	step := buildStep(t, "git", map[string]any{"push": false}, deps)
	err := step.(pipeline.Verifier).Verify(ctx, testContext())
	if err == nil || !strings.Contains(err.Error(), "main.go") {
		t.Fatalf("expected dirty tree error, got %v", err)
	}

	ignoring := buildStep(t, "git", map[string]any{"push": false, "ignorePaths": []string{"*.go"}}, deps)
	if err := ignoring.(pipeline.Verifier).Verify(ctx, testContext()); err != nil {
		t.Fatalf("ignored paths should pass: %v", err)
	}
}

func TestGitStepCommitsChangelogBeforeTagging(t *testing.T) {
	dir, _ := initRepo(t)
	repo := openRepo(t, dir, "")
	deps := Deps{Root: dir, Repo: repo, Git: appconfig.GitConfig{AuthorName: "release-bot", AuthorEmail: "bot@example.com"}}
	entries, err := Build(
		[]string{"changelog", "git"},
		map[string]map[string]any{"git": {"push": false, "commitFiles": []string{"CHANGELOG.md"}}},
		deps,
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ctx := context.Background()
	rc := testContext()
	before := rc.Head
	for _, e := range entries {
		if err := e.Step.(pipeline.Verifier).Verify(ctx, rc); err != nil {
			t.Fatalf("%s Verify: %v", e.Name, err)
		}
	}
	for _, e := range entries {
		if err := e.Step.(pipeline.Preparer).Prepare(ctx, rc); err != nil {
			t.Fatalf("%s Prepare: %v", e.Name, err)
		}
	}
	if rc.Head == before {
		t.Fatalf("head should move to the release commit")
	}
	dirty, err := repo.Dirty()
	if err != nil || len(dirty) != 0 {
		t.Fatalf("changelog should be committed: %v err=%v", dirty, err)
	}
	tags, err := repo.Releases(ctx)
	if err != nil || len(tags) != 1 || tags[0].Commit != rc.Head {
		t.Fatalf("tag should point at release commit: %+v err=%v", tags, err)
	}
}

func TestGitStepPushesTag(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary required for the file transport")
	}
	dir, local := initRepo(t)
	bare := t.TempDir()
	if _, err := git.PlainInit(bare, true); err != nil {
		t.Fatalf("init bare: %v", err)
	}
	if _, err := local.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{bare}}); err != nil {
		t.Fatalf("remote: %v", err)
	}
	deps := Deps{Root: dir, Repo: openRepo(t, dir, "origin")}
	step := buildStep(t, "git", nil, deps)
	ctx := context.Background()
	rc := testContext()

	if existing, err := step.(pipeline.ExistenceChecker).Lookup(ctx, rc); err != nil || existing != nil {
		t.Fatalf("remote should be empty: %+v err=%v", existing, err)
	}
	if err := step.(pipeline.Verifier).Verify(ctx, rc); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := step.(pipeline.Preparer).Prepare(ctx, rc); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if exists, err := deps.Repo.TagExists(rc.Tag); err != nil || exists {
		t.Fatalf("tag must not exist before publish: exists=%v err=%v", exists, err)
	}
	ref, err := step.(pipeline.Publisher).Publish(ctx, rc)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if ref != "v1.3.0" {
		t.Fatalf("ref=%q", ref)
	}
	if existing, err := step.(pipeline.ExistenceChecker).Lookup(ctx, rc); err != nil || existing == nil {
		t.Fatalf("remote should carry the tag: %+v err=%v", existing, err)
	}
}

func TestGitStepFailedPushLeavesNoLocalTag(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary required for the file transport")
	}
	dir, local := initRepo(t)
	missing := filepath.Join(t.TempDir(), "gone.git")
	if _, err := local.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{missing}}); err != nil {
		t.Fatalf("remote: %v", err)
	}
	repo := openRepo(t, dir, "origin")
	step := buildStep(t, "git", nil, Deps{Root: dir, Repo: repo})
	ctx := context.Background()
	rc := testContext()

	if err := step.(pipeline.Preparer).Prepare(ctx, rc); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if _, err := step.(pipeline.Publisher).Publish(ctx, rc); err == nil {
		t.Fatalf("push to a missing remote should fail")
	}
	exists, err := repo.TagExists(rc.Tag)
	if err != nil {
		t.Fatalf("TagExists: %v", err)
	}
	if exists {
		t.Fatalf("failed push left tag %s behind", rc.Tag)
	}
	tags, err := repo.Releases(ctx)
	if err != nil || len(tags) != 0 {
		t.Fatalf("no release tags expected: %+v err=%v", tags, err)
	}
}
