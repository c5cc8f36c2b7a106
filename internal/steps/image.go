package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/distribution/reference"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/opencontainers/go-digest"
	"github.com/samber/lo"

	"github.com/example/semrel/internal/errdefs"
	"github.com/example/semrel/internal/pipeline"
	"github.com/example/semrel/internal/release"
	"github.com/example/semrel/internal/version"
)

type imageOptions struct {
	Source     string   `yaml:"source"`
	Repository string   `yaml:"repository"`
	Tags       []string `yaml:"tags"`
	Insecure   bool     `yaml:"insecure"`
}

// imageStep retags an already pushed container image with the release version.
type imageStep struct {
	opts imageOptions
	// resolved during Verify
	source *remote.Descriptor
	digest digest.Digest
}

func newImageStep(deps Deps, raw map[string]any) (pipeline.Step, error) {
	var opts imageOptions
	if err := decode("image", raw, &opts); err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.Source) == "" {
		return nil, errdefs.Configf("stepOptions.image.source", "source image is required")
	}
	if len(opts.Tags) == 0 {
		opts.Tags = []string{"${version}"}
	}
	opts.Tags = lo.Uniq(opts.Tags)
	return &imageStep{opts: opts}, nil
}

func (s *imageStep) Name() string { return "image" }

func (s *imageStep) nameOptions() []name.Option {
	if s.opts.Insecure {
		return []name.Option{name.Insecure}
	}
	return nil
}

func (s *imageStep) remoteOptions(ctx context.Context) []remote.Option {
	return []remote.Option{
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(authn.DefaultKeychain),
		remote.WithUserAgent(version.UserAgent()),
	}
}

// target returns the repository the release tags are written to.
func (s *imageStep) target(rc *release.Context) (name.Repository, error) {
	repo := strings.TrimSpace(s.opts.Repository)
	if repo == "" {
		ref, err := name.ParseReference(expand(s.opts.Source, rc), s.nameOptions()...)
		if err != nil {
			return name.Repository{}, err
		}
		return ref.Context(), nil
	}
	return name.NewRepository(expand(repo, rc), s.nameOptions()...)
}

func (s *imageStep) Verify(ctx context.Context, rc *release.Context) error {
	src := expand(s.opts.Source, rc)
	if _, err := reference.ParseNormalizedNamed(src); err != nil {
		return fmt.Errorf("image source %q: %w", src, err)
	}
	ref, err := name.ParseReference(src, s.nameOptions()...)
	if err != nil {
		return fmt.Errorf("image source %q: %w", src, err)
	}
	target, err := s.target(rc)
	if err != nil {
		return fmt.Errorf("image repository: %w", err)
	}
	for _, t := range s.opts.Tags {
		tag := expand(t, rc)
		if _, err := name.NewTag(target.Name()+":"+tag, s.nameOptions()...); err != nil {
			return fmt.Errorf("image tag %q: %w", tag, err)
		}
	}
	desc, err := remote.Get(ref, s.remoteOptions(ctx)...)
	if err != nil {
		return fmt.Errorf("resolve image %s: %w", src, err)
	}
	dgst, err := digest.Parse(desc.Digest.String())
	if err != nil {
		return fmt.Errorf("image %s digest: %w", src, err)
	}
	s.source, s.digest = desc, dgst
	return nil
}

// Publish writes every configured tag and returns the pinned reference.
func (s *imageStep) Publish(ctx context.Context, rc *release.Context) (string, error) {
	if s.source == nil {
		return "", fmt.Errorf("image source was not resolved")
	}
	target, err := s.target(rc)
	if err != nil {
		return "", err
	}
	for _, t := range s.opts.Tags {
		tag, err := name.NewTag(target.Name()+":"+expand(t, rc), s.nameOptions()...)
		if err != nil {
			return "", err
		}
		if err := remote.Tag(tag, s.source, s.remoteOptions(ctx)...); err != nil {
			return "", fmt.Errorf("tag %s: %w", tag, err)
		}
	}
	return target.Name() + "@" + s.digest.String(), nil
}
