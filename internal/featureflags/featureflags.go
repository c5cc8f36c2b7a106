package featureflags

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// EnvPrefix is prepended to the upper-cased flag name, e.g. SEMREL_FEATURE_NOTES_PREVIEW.
const EnvPrefix = "SEMREL_FEATURE_"

// Stage indicates the lifecycle of a feature flag.
type Stage string

const (
	StageExperimental Stage = "experimental"
	StageBeta         Stage = "beta"
	StageGA           Stage = "ga"
)

// Name is the canonical identifier for a feature flag (kebab-case).
type Name string

const (
	// FeatureNotesPreview renders dry-run notes for the terminal instead of raw markdown.
	FeatureNotesPreview Name = "notes-preview"
)

type Definition struct {
	Name        Name
	Description string
	Stage       Stage
	Default     bool
}

var registry = map[Name]Definition{
	FeatureNotesPreview: {
		Name:        FeatureNotesPreview,
		Description: "Render dry-run release notes with terminal styling.",
		Stage:       StageExperimental,
	},
}

// ErrUnknownFeature is returned when a caller references a flag that has not been registered.
var ErrUnknownFeature = errors.New("unknown feature flag")

func DefinitionByName(name Name) (Definition, bool) {
	def, ok := registry[name]
	return def, ok
}

// Definitions returns the registered flags in alphabetical order.
func Definitions() []Definition {
	defs := lo.Values(registry)
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// EnvVar returns the environment variable that toggles the flag.
func (d Definition) EnvVar() string {
	return EnvPrefix + strings.ReplaceAll(strings.ToUpper(string(d.Name)), "-", "_")
}

// Flags is the resolved flag set of one invocation.
type Flags struct {
	values map[Name]bool
}

func (f Flags) Enabled(name Name) bool {
	return f.values[name]
}

// EnabledNames returns the enabled flag names in alphabetical order.
func (f Flags) EnabledNames() []Name {
	names := lo.Filter(lo.Keys(f.values), func(n Name, _ int) bool { return f.values[n] })
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Resolve combines defaults with explicit sources (flags, env). A token of the
// form name=false disables a flag that an earlier source or the default enabled.
func Resolve(sources ...[]string) (Flags, error) {
	values := make(map[Name]bool, len(registry))
	for _, def := range registry {
		if def.Default {
			values[def.Name] = true
		}
	}
	for _, source := range sources {
		for _, token := range splitTokens(source) {
			raw, val, hasVal := strings.Cut(token, "=")
			name := normalizeName(raw)
			if _, ok := registry[name]; !ok {
				return Flags{}, fmt.Errorf("%w: %s", ErrUnknownFeature, raw)
			}
			values[name] = !hasVal || isTruthy(val)
		}
	}
	return Flags{values: values}, nil
}

// EnabledFromEnv scans environ (os.Environ when nil) for SEMREL_FEATURE_* entries.
func EnabledFromEnv(environ []string) []string {
	if environ == nil {
		environ = os.Environ()
	}
	var out []string
	for _, entry := range environ {
		key, val, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		name := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, EnvPrefix), "_", "-"))
		if isTruthy(val) {
			out = append(out, name)
		}
	}
	return out
}

func ContextWithFlags(ctx context.Context, flags Flags) context.Context {
	return context.WithValue(ctx, ctxKey{}, flags)
}

// FromContext returns the stored flags, an empty set when none were stored.
func FromContext(ctx context.Context) Flags {
	if ctx == nil {
		return Flags{}
	}
	flags, _ := ctx.Value(ctxKey{}).(Flags)
	return flags
}

type ctxKey struct{}

func splitTokens(values []string) []string {
	var tokens []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				tokens = append(tokens, part)
			}
		}
	}
	return tokens
}

func normalizeName(raw string) Name {
	return Name(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "_", "-"))
}

func isTruthy(val string) bool {
	switch strings.TrimSpace(strings.ToLower(val)) {
	case "1", "t", "true", "y", "yes", "on":
		return true
	default:
		return false
	}
}
