package credentials

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sigs.k8s.io/yaml"
)

// fileProvider reads a YAML document of nested maps. Paths walk the maps with "/";
// a trailing #key selects one more level.
type fileProvider struct {
	path string
	data map[string]any
}

func newFileProvider(path, baseDir string) (*fileProvider, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("file provider path is required")
	}
	if baseDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	path = filepath.Clean(path)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secrets file %q: %w", path, err)
	}
	data := map[string]any{}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse secrets file %q: %w", path, err)
	}
	return &fileProvider{path: path, data: data}, nil
}

func (p *fileProvider) Resolve(_ context.Context, secretPath string) (string, error) {
	secretPath, key, _ := strings.Cut(strings.TrimSpace(secretPath), "#")
	segments := strings.Split(strings.Trim(secretPath, "/"), "/")
	if key = strings.TrimSpace(key); key != "" {
		segments = append(segments, key)
	}
	var current any = p.data
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		m, ok := current.(map[string]any)
		if !ok {
			return "", fmt.Errorf("secret path %q does not resolve to a value in %s", secretPath, p.path)
		}
		if current, ok = m[seg]; !ok {
			return "", fmt.Errorf("secret path %q not found in %s", secretPath, p.path)
		}
	}
	switch v := current.(type) {
	case string:
		return v, nil
	case nil:
		return "", fmt.Errorf("secret path %q resolves to empty value in %s", secretPath, p.path)
	default:
		return "", fmt.Errorf("secret path %q resolved to non-string value in %s", secretPath, p.path)
	}
}
