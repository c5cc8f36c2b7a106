// Package credentials resolves the tokens publish steps need. A value is either a
// literal, an env://NAME reference or a secret://provider/path#key reference.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"github.com/example/semrel/internal/appconfig"
	"github.com/example/semrel/internal/errdefs"
)

const (
	envScheme    = "env://"
	secretScheme = "secret://"
)

// ErrEmpty is returned when a reference resolves to an empty value.
var ErrEmpty = errors.New("credential is empty")

// Provider resolves a path (optionally suffixed with #key) to a secret value.
type Provider interface {
	Resolve(ctx context.Context, path string) (string, error)
}

// Ref is a parsed secret:// reference.
type Ref struct {
	Provider string
	Path     string
	Key      string
}

func (r Ref) String() string {
	s := secretScheme + r.Provider + "/" + r.Path
	if r.Key != "" {
		s += "#" + r.Key
	}
	return s
}

// ParseRef parses secret://provider/path#key. An empty provider segment
// (secret:///path) selects defaultProvider. ok is false when value is not a secret reference.
func ParseRef(value, defaultProvider string) (Ref, bool, error) {
	if !strings.HasPrefix(value, secretScheme) {
		return Ref{}, false, nil
	}
	rest := strings.TrimSpace(strings.TrimPrefix(value, secretScheme))
	var key string
	if i := strings.LastIndex(rest, "#"); i >= 0 {
		key = strings.TrimSpace(rest[i+1:])
		rest = rest[:i]
	}
	provider, path, found := strings.Cut(rest, "/")
	if !found {
		provider, path = "", provider
	}
	provider = strings.TrimSpace(provider)
	path = strings.Trim(strings.TrimSpace(path), "/")
	if provider == "" {
		provider = strings.TrimSpace(defaultProvider)
	}
	if provider == "" {
		return Ref{}, true, fmt.Errorf("secret reference %q is missing provider", value)
	}
	if path == "" {
		return Ref{}, true, fmt.Errorf("secret reference %q is missing path", value)
	}
	return Ref{Provider: provider, Path: path, Key: key}, true, nil
}

// Resolver resolves credential values. It caches provider lookups for the
// lifetime of one run and is safe for concurrent use.
type Resolver struct {
	providers       map[string]Provider
	defaultProvider string
	lookupEnv       func(string) (string, bool)

	mu    sync.Mutex
	cache map[string]string
}

// NewResolver builds providers from cfg. Relative file provider paths are taken from baseDir.
func NewResolver(cfg appconfig.SecretsConfig, baseDir string) (*Resolver, error) {
	providers := make(map[string]Provider, len(cfg.Providers))
	for name, pcfg := range cfg.Providers {
		name = strings.TrimSpace(name)
		field := "secrets.providers." + name
		if name == "" {
			return nil, errdefs.Configf("secrets.providers", "provider name cannot be empty")
		}
		var (
			p   Provider
			err error
		)
		switch kind := strings.ToLower(strings.TrimSpace(pcfg.Type)); kind {
		case "file":
			p, err = newFileProvider(pcfg.Path, baseDir)
		case "vault":
			p, err = newVaultProvider(pcfg)
		case "":
			err = fmt.Errorf("missing type")
		default:
			err = fmt.Errorf("unsupported type %q", kind)
		}
		if err != nil {
			return nil, &errdefs.ConfigError{Field: field, Err: err}
		}
		providers[name] = p
	}
	def := strings.TrimSpace(cfg.DefaultProvider)
	if def != "" {
		if _, ok := providers[def]; !ok {
			return nil, errdefs.Configf("secrets.defaultProvider", "provider %q is not configured", def)
		}
	}
	return &Resolver{
		providers:       providers,
		defaultProvider: def,
		lookupEnv:       os.LookupEnv,
		cache:           map[string]string{},
	}, nil
}

// WithProvider registers p under name, replacing any configured provider.
func (r *Resolver) WithProvider(name string, p Provider) *Resolver {
	r.providers[name] = p
	return r
}

// Providers lists configured provider names.
func (r *Resolver) Providers() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the concrete value of value. Literals are returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	value = strings.TrimSpace(value)
	if name, ok := strings.CutPrefix(value, envScheme); ok {
		name = strings.TrimSpace(name)
		if name == "" {
			return "", fmt.Errorf("env reference %q is missing a variable name", value)
		}
		lookup := os.LookupEnv
		if r != nil && r.lookupEnv != nil {
			lookup = r.lookupEnv
		}
		v, set := lookup(name)
		if !set || strings.TrimSpace(v) == "" {
			return "", fmt.Errorf("%w: environment variable %s is not set", ErrEmpty, name)
		}
		return v, nil
	}
	def := ""
	if r != nil {
		def = r.defaultProvider
	}
	ref, ok, err := ParseRef(value, def)
	if !ok {
		return value, nil
	}
	if err != nil {
		return "", err
	}
	if r == nil {
		return "", fmt.Errorf("secret resolver is not configured")
	}
	return r.resolveRef(ctx, ref)
}

func (r *Resolver) resolveRef(ctx context.Context, ref Ref) (string, error) {
	key := ref.String()
	r.mu.Lock()
	cached, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}
	p := r.providers[ref.Provider]
	if p == nil {
		return "", fmt.Errorf("secret provider %q is not configured", ref.Provider)
	}
	path := ref.Path
	if ref.Key != "" {
		path += "#" + ref.Key
	}
	v, err := p.Resolve(ctx, path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", ref, err)
	}
	if strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: %s", ErrEmpty, ref)
	}
	r.mu.Lock()
	r.cache[key] = v
	r.mu.Unlock()
	return v, nil
}

// Describe renders value for logs without revealing literal secrets.
func Describe(value string) string {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "<unset>"
	case strings.HasPrefix(value, envScheme), strings.HasPrefix(value, secretScheme):
		return value
	default:
		return "<literal>"
	}
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables already set are left alone. A missing file is an error only when required.
func LoadEnvFile(path string, required bool) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return &errdefs.ConfigError{Field: "env-file", Err: err}
	}
	if err := godotenv.Load(path); err != nil {
		return &errdefs.ConfigError{Field: "env-file", Err: err}
	}
	return nil
}
