package engine

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"

	"github.com/example/semrel/internal/appconfig"
	"github.com/example/semrel/internal/credentials"
	"github.com/example/semrel/internal/history"
	"github.com/example/semrel/internal/ledger"
	"github.com/example/semrel/internal/pipeline"
	"github.com/example/semrel/internal/steps"
)

// OpenOptions locate the repository and its configuration. Empty paths use the defaults.
type OpenOptions struct {
	Dir          string
	GlobalConfig string
	RepoConfig   string
	// EnvFile is required to exist when set; otherwise .semrel.env is loaded if present.
	EnvFile    string
	NoLedger   bool
	Owner      string
	Log        logr.Logger
	HTTPClient *http.Client
	Observers  []pipeline.Observer
}

// Workspace is an opened repository with everything a run needs.
type Workspace struct {
	Root     string
	Config   appconfig.Config
	Settings Settings
	Repo     *history.Repository
	Ledger   *ledger.Store
	Engine   *Engine
}

// LoadConfig finds the repository root from opts.Dir and loads the merged configuration.
func LoadConfig(ctx context.Context, opts OpenOptions) (string, appconfig.Config, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		dir = "."
	}
	root := appconfig.FindRepoRoot(dir)
	if root == "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", appconfig.Config{}, err
		}
		root = abs
	}
	global := opts.GlobalConfig
	if strings.TrimSpace(global) == "" {
		global = appconfig.DefaultGlobalPath()
	}
	repoCfg := opts.RepoConfig
	if strings.TrimSpace(repoCfg) == "" {
		repoCfg = appconfig.DefaultRepoPath(root)
	}
	cfg, err := appconfig.Load(ctx, global, repoCfg)
	if err != nil {
		return root, appconfig.Config{}, err
	}
	return root, cfg, nil
}

// Open wires configuration, history, credentials, steps and the ledger.
// Every error returned before a run starts is a configuration or environment error.
func Open(ctx context.Context, opts OpenOptions) (*Workspace, error) {
	root, cfg, err := LoadConfig(ctx, opts)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.EnvFile) != "" {
		err = credentials.LoadEnvFile(opts.EnvFile, true)
	} else {
		err = credentials.LoadEnvFile(filepath.Join(root, appconfig.RepoEnvName), false)
	}
	if err != nil {
		return nil, err
	}
	settings, err := SettingsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	repo, err := history.Open(root, cfg.Git.Remote)
	if err != nil {
		return nil, err
	}
	resolver, err := credentials.NewResolver(cfg.Secrets, root)
	if err != nil {
		return nil, err
	}
	entries, err := steps.Build(cfg.Steps, cfg.StepOptions, steps.Deps{
		Root:        repo.Root(),
		Repo:        repo,
		Credentials: resolver,
		Git:         cfg.Git,
		Log:         opts.Log,
		HTTPClient:  opts.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	ws := &Workspace{Root: repo.Root(), Config: cfg, Settings: settings, Repo: repo}
	if cfg.LedgerEnabled() && !opts.NoLedger {
		store, err := ledger.Open(ws.Root, cfg.Ledger.Path, false)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		ws.Ledger = store
	}
	ws.Engine = New(Options{
		Settings:  settings,
		History:   repo,
		Entries:   entries,
		Ledger:    ws.Ledger,
		Observers: opts.Observers,
		Owner:     opts.Owner,
		Log:       opts.Log,
	})
	return ws, nil
}

func (w *Workspace) Close() error {
	if w == nil || w.Ledger == nil {
		return nil
	}
	if err := w.Ledger.CheckpointPortable(context.Background()); err != nil {
		_ = w.Ledger.Close()
		return err
	}
	return w.Ledger.Close()
}
