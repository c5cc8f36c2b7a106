package appconfig

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/example/semrel/internal/channel"
	"github.com/example/semrel/internal/errdefs"
)

const (
	GlobalDirName  = ".semrel"
	RepoConfigName = ".semrel.yaml"
	RepoEnvName    = ".semrel.env"
)

// Config is the merged domain configuration. It is loaded once per run.
type Config struct {
	TagPrefix   *string                   `yaml:"tagPrefix,omitempty"`
	Channels    []channel.Channel         `yaml:"channels,omitempty"`
	Steps       []string                  `yaml:"steps,omitempty"`
	StepOptions map[string]map[string]any `yaml:"stepOptions,omitempty"`
	Conventions ConventionsConfig         `yaml:"conventions,omitempty"`
	Analysis    AnalysisConfig            `yaml:"analysis,omitempty"`
	Ledger      LedgerConfig              `yaml:"ledger,omitempty"`
	Release     ReleaseConfig             `yaml:"release,omitempty"`
	Git         GitConfig                 `yaml:"git,omitempty"`
	Secrets     SecretsConfig             `yaml:"secrets,omitempty"`
}

type ConventionsConfig struct {
	// Types maps a commit type to patch, minor, major or none.
	Types map[string]string `yaml:"types,omitempty"`
}

type AnalysisConfig struct {
	Workers int `yaml:"workers,omitempty"`
}

type LedgerConfig struct {
	Path     string `yaml:"path,omitempty"`
	Disabled *bool  `yaml:"disabled,omitempty"`
}

type ReleaseConfig struct {
	// Force releases at severity None with a patch bump.
	Force *bool `yaml:"force,omitempty"`
}

type GitConfig struct {
	Remote      string `yaml:"remote,omitempty"`
	AuthorName  string `yaml:"authorName,omitempty"`
	AuthorEmail string `yaml:"authorEmail,omitempty"`
}

// SecretsConfig defines named secret providers for credential resolution.
type SecretsConfig struct {
	DefaultProvider string                    `yaml:"defaultProvider,omitempty"`
	Providers       map[string]SecretProvider `yaml:"providers,omitempty"`
}

// SecretProvider defines a single secret provider.
type SecretProvider struct {
	Type                string `yaml:"type,omitempty"`
	Path                string `yaml:"path,omitempty"`
	Address             string `yaml:"address,omitempty"`
	Token               string `yaml:"token,omitempty"`
	Namespace           string `yaml:"namespace,omitempty"`
	Mount               string `yaml:"mount,omitempty"`
	KVVersion           int    `yaml:"kvVersion,omitempty"`
	Key                 string `yaml:"key,omitempty"`
	AuthMethod          string `yaml:"authMethod,omitempty"`
	AuthMount           string `yaml:"authMount,omitempty"`
	RoleID              string `yaml:"roleId,omitempty"`
	SecretID            string `yaml:"secretId,omitempty"`
	KubernetesRole      string `yaml:"kubernetesRole,omitempty"`
	KubernetesTokenPath string `yaml:"kubernetesTokenPath,omitempty"`
	AWSRole             string `yaml:"awsRole,omitempty"`
	AWSRegion           string `yaml:"awsRegion,omitempty"`
	AWSHeaderValue      string `yaml:"awsHeaderValue,omitempty"`
}

// Prefix returns the configured tag prefix, "v" when unset.
func (c Config) Prefix() string {
	if c.TagPrefix == nil {
		return "v"
	}
	return *c.TagPrefix
}

func (c Config) ForceRelease() bool {
	return c.Release.Force != nil && *c.Release.Force
}

func (c Config) LedgerEnabled() bool {
	return c.Ledger.Disabled == nil || !*c.Ledger.Disabled
}

func DefaultGlobalPath() string {
	home, _ := os.UserHomeDir()
	if strings.TrimSpace(home) == "" {
		return ""
	}
	return filepath.Join(home, GlobalDirName, "config.yaml")
}

func DefaultRepoPath(repoRoot string) string {
	repoRoot = strings.TrimSpace(repoRoot)
	if repoRoot == "" {
		return ""
	}
	return filepath.Join(repoRoot, RepoConfigName)
}

// Load reads the global then the repository file; repository values win.
// Missing files are not an error; malformed ones are a ConfigError.
func Load(ctx context.Context, globalPath, repoPath string) (Config, error) {
	_ = ctx
	cfg := Config{}
	if strings.TrimSpace(globalPath) != "" {
		c, err := loadOne(globalPath)
		if err != nil {
			return Config{}, fmt.Errorf("load global config: %w", err)
		}
		cfg = merge(cfg, c)
	}
	if strings.TrimSpace(repoPath) != "" {
		c, err := loadOne(repoPath)
		if err != nil {
			return Config{}, fmt.Errorf("load repo config: %w", err)
		}
		cfg = merge(cfg, c)
	}
	return cfg, nil
}

func loadOne(path string) (Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Config{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Config{}, nil
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, &errdefs.ConfigError{Field: path, Err: err}
	}
	return cfg, nil
}

func merge(a, b Config) Config {
	out := a
	if b.TagPrefix != nil {
		out.TagPrefix = b.TagPrefix
	}
	if len(b.Channels) > 0 {
		out.Channels = append([]channel.Channel(nil), b.Channels...)
	}
	if len(b.Steps) > 0 {
		out.Steps = append([]string(nil), b.Steps...)
	}
	if len(b.StepOptions) > 0 {
		merged := map[string]map[string]any{}
		for name, opts := range a.StepOptions {
			merged[name] = opts
		}
		for name, opts := range b.StepOptions {
			merged[name] = opts
		}
		out.StepOptions = merged
	}
	if len(b.Conventions.Types) > 0 {
		types := map[string]string{}
		for k, v := range a.Conventions.Types {
			types[k] = v
		}
		for k, v := range b.Conventions.Types {
			types[k] = v
		}
		out.Conventions.Types = types
	}
	if b.Analysis.Workers != 0 {
		out.Analysis.Workers = b.Analysis.Workers
	}
	if b.Ledger.Path != "" {
		out.Ledger.Path = b.Ledger.Path
	}
	if b.Ledger.Disabled != nil {
		out.Ledger.Disabled = b.Ledger.Disabled
	}
	if b.Release.Force != nil {
		out.Release.Force = b.Release.Force
	}
	if b.Git.Remote != "" {
		out.Git.Remote = b.Git.Remote
	}
	if b.Git.AuthorName != "" {
		out.Git.AuthorName = b.Git.AuthorName
	}
	if b.Git.AuthorEmail != "" {
		out.Git.AuthorEmail = b.Git.AuthorEmail
	}
	out.Secrets = mergeSecrets(a.Secrets, b.Secrets)
	return out
}

func mergeSecrets(a, b SecretsConfig) SecretsConfig {
	out := a
	if b.DefaultProvider != "" {
		out.DefaultProvider = b.DefaultProvider
	}
	if len(b.Providers) > 0 {
		providers := map[string]SecretProvider{}
		for name, cfg := range a.Providers {
			providers[name] = cfg
		}
		for name, cfg := range b.Providers {
			providers[name] = cfg
		}
		out.Providers = providers
	}
	return out
}
