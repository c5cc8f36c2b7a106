package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/semrel/internal/errdefs"
	"github.com/example/semrel/internal/release"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestOpenWiresConfiguredSteps(t *testing.T) {
	f := newRepo(t)
	f.commit("feat: init")
	writeFile(t, filepath.Join(f.dir, ".semrel.yaml"), `
tagPrefix: release-
channels:
  - name: main
steps: [changelog, exec]
stepOptions:
  exec:
    verifyCmd: sh -c 'test "$DEPLOY_TARGET" = staging'
`)
	writeFile(t, filepath.Join(f.dir, ".semrel.env"), "DEPLOY_TARGET=staging\n")
	t.Setenv("DEPLOY_TARGET", "")
	os.Unsetenv("DEPLOY_TARGET")

	ws, err := Open(context.Background(), OpenOptions{
		Dir:          filepath.Join(f.dir),
		GlobalConfig: filepath.Join(t.TempDir(), "missing.yaml"),
		Owner:        "test",
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ws.Close()

	if ws.Ledger == nil {
		t.Fatalf("ledger should be enabled by default")
	}
	if got := os.Getenv("DEPLOY_TARGET"); got != "staging" {
		t.Fatalf("env file not loaded: %q", got)
	}
	out := ws.Engine.Run(context.Background(), "main", true)
	if out.Status != release.StatusDryRun {
		t.Fatalf("status=%s err=%v", out.Status, out.Err)
	}
	if out.Tag != "release-1.0.0" {
		t.Fatalf("tag=%q", out.Tag)
	}
	if len(out.Steps) != 2 || out.Steps[0].Step != "changelog" || out.Steps[1].Status != release.StepVerified {
		t.Fatalf("steps=%+v", out.Steps)
	}
	if _, err := os.Stat(filepath.Join(f.dir, "CHANGELOG.md")); !os.IsNotExist(err) {
		t.Fatalf("dry run must not write the changelog: %v", err)
	}
}

func TestOpenRejectsUnknownStep(t *testing.T) {
	f := newRepo(t)
	f.commit("feat: init")
	writeFile(t, filepath.Join(f.dir, ".semrel.yaml"), "steps: [npm]\n")
	_, err := Open(context.Background(), OpenOptions{
		Dir:          f.dir,
		GlobalConfig: filepath.Join(t.TempDir(), "missing.yaml"),
		NoLedger:     true,
	})
	var cfgErr *errdefs.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestOpenRequiresExplicitEnvFile(t *testing.T) {
	f := newRepo(t)
	f.commit("feat: init")
	_, err := Open(context.Background(), OpenOptions{
		Dir:          f.dir,
		GlobalConfig: filepath.Join(t.TempDir(), "missing.yaml"),
		EnvFile:      filepath.Join(t.TempDir(), "absent.env"),
		NoLedger:     true,
	})
	var cfgErr *errdefs.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "env-file" {
		t.Fatalf("expected env-file ConfigError, got %v", err)
	}
}
