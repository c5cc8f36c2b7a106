package steps

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/example/semrel/internal/analyzer"
	"github.com/example/semrel/internal/channel"
	"github.com/example/semrel/internal/history"
	"github.com/example/semrel/internal/release"
	"github.com/example/semrel/internal/versioning"
)

func testContext() *release.Context {
	return &release.Context{
		RunID:       "run-1",
		Branch:      "main",
		Channel:     channel.Channel{Name: "main"},
		TagPrefix:   "v",
		Head:        "0123456789abcdef",
		Severity:    analyzer.Minor,
		NextVersion: versioning.Version{Major: 1, Minor: 3},
		Notes:       "## 1.3.0\n\n### Features\n\n* add export (abc1234)\n",
		Tag:         "v1.3.0",
		Records: []analyzer.Classified{{
			Record:   history.Record{ID: "abc1234def", Type: "feat", Subject: "add export"},
			Severity: analyzer.Minor,
		}},
	}
}

// initRepo creates a repository with one committed file and returns its root.
func initRepo(t *testing.T) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	if _, err := wt.Add("main.go"); err != nil {
		t.Fatalf("add: %v", err)
	}
	sig := &object.Signature{Name: "dev", Email: "dev@example.com", When: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	if _, err := wt.Commit("feat: init", &git.CommitOptions{Author: sig, Committer: sig}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return dir, repo
}

func openRepo(t *testing.T, dir, remote string) *history.Repository {
	t.Helper()
	r, err := history.Open(dir, remote)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r
}

var testNow = time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
