package steps

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v56/github"
	"golang.org/x/oauth2"

	"github.com/example/semrel/internal/pipeline"
	"github.com/example/semrel/internal/release"
	"github.com/example/semrel/internal/version"
)

const defaultGitHubToken = "env://GITHUB_TOKEN"

type githubOptions struct {
	Repository string `yaml:"repository"`
	Token      string `yaml:"token"`
	APIURL     string `yaml:"apiURL"`
	Name       string `yaml:"name"`
	Draft      bool   `yaml:"draft"`
}

// githubStep publishes a GitHub release for the tag.
type githubStep struct {
	deps  Deps
	opts  githubOptions
	owner string
	name  string
}

func newGitHubStep(deps Deps, raw map[string]any) (pipeline.Step, error) {
	var opts githubOptions
	if err := decode("github", raw, &opts); err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.Token) == "" {
		opts.Token = defaultGitHubToken
	}
	if strings.TrimSpace(opts.Name) == "" {
		opts.Name = "${tag}"
	}
	s := &githubStep{deps: deps, opts: opts}
	if repo := strings.TrimSpace(opts.Repository); repo != "" {
		owner, name, ok := splitRepository(repo)
		if !ok {
			return nil, fmt.Errorf("github: repository %q must be owner/name", repo)
		}
		s.owner, s.name = owner, name
	}
	return s, nil
}

func (s *githubStep) Name() string { return "github" }

// splitRepository accepts owner/name as well as https and ssh remote URLs.
func splitRepository(raw string) (string, string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, ".git")
	switch {
	case strings.HasPrefix(s, "git@"):
		_, s, _ = strings.Cut(s, ":")
	case strings.Contains(s, "://"):
		_, s, _ = strings.Cut(s, "://")
		_, s, _ = strings.Cut(s, "/")
	}
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (s *githubStep) repository() (string, string, error) {
	if s.owner != "" {
		return s.owner, s.name, nil
	}
	if s.deps.Repo == nil {
		return "", "", fmt.Errorf("github: repository is not set and there is no git remote")
	}
	remote, err := s.deps.Repo.RemoteURL()
	if err != nil {
		return "", "", err
	}
	owner, name, ok := splitRepository(remote)
	if !ok {
		return "", "", fmt.Errorf("github: cannot derive owner/name from remote %q", remote)
	}
	s.owner, s.name = owner, name
	return owner, name, nil
}

func (s *githubStep) client(ctx context.Context) (*github.Client, error) {
	token, err := resolveToken(ctx, s.deps, s.opts.Token)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, fmt.Errorf("github: token is empty")
	}
	if s.deps.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.deps.HTTPClient)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	client.UserAgent = version.UserAgent()
	if api := strings.TrimSpace(s.opts.APIURL); api != "" {
		if !strings.HasSuffix(api, "/") {
			api += "/"
		}
		u, err := url.Parse(api)
		if err != nil {
			return nil, fmt.Errorf("github: api url: %w", err)
		}
		client.BaseURL = u
	}
	return client, nil
}

func (s *githubStep) Verify(ctx context.Context, rc *release.Context) error {
	owner, name, err := s.repository()
	if err != nil {
		return err
	}
	client, err := s.client(ctx)
	if err != nil {
		return err
	}
	if _, _, err := client.Repositories.Get(ctx, owner, name); err != nil {
		return fmt.Errorf("github: repository %s/%s: %w", owner, name, err)
	}
	return nil
}

func (s *githubStep) Publish(ctx context.Context, rc *release.Context) (string, error) {
	owner, name, err := s.repository()
	if err != nil {
		return "", err
	}
	client, err := s.client(ctx)
	if err != nil {
		return "", err
	}
	req := &github.RepositoryRelease{
		TagName:    github.String(rc.Tag),
		Name:       github.String(expand(s.opts.Name, rc)),
		Body:       github.String(rc.Notes),
		Draft:      github.Bool(s.opts.Draft),
		Prerelease: github.Bool(rc.Channel.Prerelease),
	}
	if rc.Head != "" {
		req.TargetCommitish = github.String(rc.Head)
	}
	rel, _, err := client.Repositories.CreateRelease(ctx, owner, name, req)
	if err != nil {
		return "", fmt.Errorf("github: create release %s: %w", rc.Tag, err)
	}
	return rel.GetHTMLURL(), nil
}

func (s *githubStep) Lookup(ctx context.Context, rc *release.Context) (*pipeline.Existing, error) {
	owner, name, err := s.repository()
	if err != nil {
		return nil, err
	}
	client, err := s.client(ctx)
	if err != nil {
		return nil, err
	}
	rel, _, err := client.Repositories.GetReleaseByTag(ctx, owner, name, rc.Tag)
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("github: lookup release %s: %w", rc.Tag, err)
	}
	return &pipeline.Existing{Source: "github", Ref: rel.GetHTMLURL(), Notes: rel.GetBody()}, nil
}
