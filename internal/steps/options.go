package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/semrel/internal/credentials"
	"github.com/example/semrel/internal/errdefs"
	"github.com/example/semrel/internal/release"
)

// decode converts a generic option map into out, rejecting unknown keys.
func decode(step string, raw map[string]any, out any) error {
	if len(raw) == 0 {
		return nil
	}
	buf, err := yaml.Marshal(raw)
	if err != nil {
		return &errdefs.ConfigError{Field: "stepOptions." + step, Err: err}
	}
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &errdefs.ConfigError{Field: "stepOptions." + step, Err: err}
	}
	return nil
}

// splitTimeout removes the shared timeout key from raw.
func splitTimeout(step string, raw map[string]any) (map[string]any, time.Duration, error) {
	if len(raw) == 0 {
		return nil, 0, nil
	}
	rest := make(map[string]any, len(raw))
	for k, v := range raw {
		rest[k] = v
	}
	v, ok := rest["timeout"]
	if !ok {
		return rest, 0, nil
	}
	delete(rest, "timeout")
	s := strings.TrimSpace(fmt.Sprint(v))
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return nil, 0, errdefs.Configf("stepOptions."+step+".timeout", "invalid duration %q", s)
	}
	return rest, d, nil
}

// expand substitutes ${version}, ${tag}, ${channel} and ${head}.
func expand(s string, rc *release.Context) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return strings.NewReplacer(
		"${version}", rc.NextVersion.String(),
		"${tag}", rc.Tag,
		"${channel}", rc.Channel.Name,
		"${head}", rc.Head,
	).Replace(s)
}

// resolveToken resolves a credential option; an unset option yields "" with no error.
func resolveToken(ctx context.Context, deps Deps, value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	deps.Log.V(1).Info("resolving credential", "source", credentials.Describe(value))
	// A nil resolver still handles literals and env:// references.
	return deps.Credentials.Resolve(ctx, value)
}
