package steps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"

	"github.com/example/semrel/internal/pipeline"
	"github.com/example/semrel/internal/release"
)

type changelogOptions struct {
	Path  string `yaml:"path"`
	Title string `yaml:"title"`
}

// changelogStep prepends the release notes to a changelog file.
type changelogStep struct {
	path  string
	title string
}

func newChangelogStep(deps Deps, raw map[string]any) (pipeline.Step, error) {
	var opts changelogOptions
	if err := decode("changelog", raw, &opts); err != nil {
		return nil, err
	}
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = "CHANGELOG.md"
	}
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.Wrap(err, "changelog path")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(deps.Root, path)
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		title = "# Changelog"
	}
	return &changelogStep{path: path, title: title}, nil
}

func (s *changelogStep) Name() string { return "changelog" }

func (s *changelogStep) Verify(ctx context.Context, rc *release.Context) error {
	dir := filepath.Dir(s.path)
	info, err := os.Stat(dir)
	if err != nil {
		return errors.Wrap(err, "changelog directory")
	}
	if !info.IsDir() {
		return fmt.Errorf("changelog directory %s is not a directory", dir)
	}
	return nil
}

// Prepare is a no-op when the file already has a heading for the version.
func (s *changelogStep) Prepare(ctx context.Context, rc *release.Context) error {
	existing, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "read changelog")
	}
	text := string(existing)
	heading := "## " + rc.NextVersion.String()
	for _, line := range strings.Split(text, "\n") {
		if line == heading || strings.HasPrefix(line, heading+" ") {
			rc.SetArtifact(s.Name(), s.path)
			return nil
		}
	}
	body := strings.TrimPrefix(strings.TrimLeft(text, "\n"), s.title)
	body = strings.TrimLeft(body, "\n")
	var b strings.Builder
	b.WriteString(s.title)
	b.WriteString("\n\n")
	b.WriteString(strings.TrimRight(rc.Notes, "\n"))
	b.WriteString("\n")
	if body != "" {
		b.WriteString("\n")
		b.WriteString(body)
	}
	if err := os.WriteFile(s.path, []byte(b.String()), 0o644); err != nil {
		return errors.Wrap(err, "write changelog")
	}
	rc.SetArtifact(s.Name(), s.path)
	return nil
}
