package steps

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/moby/patternmatcher"
	"github.com/samber/lo"

	"github.com/example/semrel/internal/errdefs"
	"github.com/example/semrel/internal/history"
	"github.com/example/semrel/internal/pipeline"
	"github.com/example/semrel/internal/release"
)

const defaultCommitMessage = "chore(release): ${version}"

type gitOptions struct {
	Remote        string   `yaml:"remote"`
	Token         string   `yaml:"token"`
	Push          *bool    `yaml:"push"`
	AllowDirty    bool     `yaml:"allowDirty"`
	IgnorePaths   []string `yaml:"ignorePaths"`
	CommitFiles   []string `yaml:"commitFiles"`
	CommitMessage string   `yaml:"commitMessage"`
}

// gitStep tags the release commit and pushes the tag.
type gitStep struct {
	deps   Deps
	repo   *history.Repository
	opts   gitOptions
	author history.Signature
	ignore *patternmatcher.PatternMatcher
	// branchMoved is set when Prepare committed release files.
	branchMoved bool
}

func newGitStep(deps Deps, raw map[string]any) (pipeline.Step, error) {
	var opts gitOptions
	if err := decode("git", raw, &opts); err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.CommitMessage) == "" {
		opts.CommitMessage = defaultCommitMessage
	}
	s := &gitStep{
		deps:   deps,
		repo:   deps.Repo,
		opts:   opts,
		author: history.Signature{Name: deps.Git.AuthorName, Email: deps.Git.AuthorEmail},
	}
	if len(opts.IgnorePaths) > 0 {
		pm, err := patternmatcher.New(opts.IgnorePaths)
		if err != nil {
			return nil, errdefs.Configf("stepOptions.git.ignorePaths", "%v", err)
		}
		s.ignore = pm
	}
	if remote := strings.TrimSpace(opts.Remote); remote != "" && deps.Repo != nil && remote != deps.Repo.RemoteName() {
		repo, err := history.Open(deps.Repo.Root(), remote)
		if err != nil {
			return nil, err
		}
		s.repo = repo
	}
	return s, nil
}

func (s *gitStep) Name() string { return "git" }

func (s *gitStep) push() bool { return s.opts.Push == nil || *s.opts.Push }

func (s *gitStep) Capabilities() pipeline.Capabilities {
	return pipeline.Capabilities{Verify: true, Prepare: true, Publish: s.push()}
}

func (s *gitStep) Verify(ctx context.Context, rc *release.Context) error {
	if s.repo == nil {
		return fmt.Errorf("not a git repository")
	}
	if !s.opts.AllowDirty {
		dirty, err := s.repo.Dirty()
		if err != nil {
			return err
		}
		commitFiles := lo.Map(s.opts.CommitFiles, func(p string, _ int) string { return filepath.ToSlash(expand(p, rc)) })
		dirty = lo.Without(dirty, commitFiles...)
		if s.ignore != nil {
			dirty = lo.Reject(dirty, func(p string, _ int) bool {
				ok, err := s.ignore.MatchesOrParentMatches(p)
				return err == nil && ok
			})
		}
		if len(dirty) > 0 {
			return fmt.Errorf("working tree has uncommitted changes: %s", strings.Join(dirty, ", "))
		}
	}
	exists, err := s.repo.TagExists(rc.Tag)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("tag %s already exists locally", rc.Tag)
	}
	if !s.push() {
		return nil
	}
	if _, err := s.repo.RemoteURL(); err != nil {
		return err
	}
	_, err = resolveToken(ctx, s.deps, s.opts.Token)
	return err
}

func (s *gitStep) Prepare(ctx context.Context, rc *release.Context) error {
	if len(s.opts.CommitFiles) > 0 {
		paths := lo.Map(s.opts.CommitFiles, func(p string, _ int) string { return expand(p, rc) })
		head, committed, err := s.repo.CommitFiles(paths, expand(s.opts.CommitMessage, rc), s.author)
		if err != nil {
			return err
		}
		if committed {
			s.branchMoved = true
			rc.Head = head
		}
	}
	if s.push() {
		// The tag is created at publish time so a failed run leaves no local marker.
		head, err := s.repo.Head(ctx)
		if err != nil {
			return err
		}
		rc.Head = head
		return nil
	}
	commit, err := s.repo.CreateTag(rc.Tag, rc.Notes, s.author)
	if err != nil {
		return err
	}
	rc.Head = commit
	return nil
}

func (s *gitStep) Publish(ctx context.Context, rc *release.Context) (string, error) {
	token, err := resolveToken(ctx, s.deps, s.opts.Token)
	if err != nil {
		return "", err
	}
	if _, err := s.repo.CreateTag(rc.Tag, rc.Notes, s.author); err != nil {
		return "", err
	}
	branch := ""
	if s.branchMoved {
		branch = rc.Branch
	}
	if err := s.repo.PushTag(ctx, rc.Tag, branch, token); err != nil {
		if derr := s.repo.DeleteTag(rc.Tag); derr != nil {
			s.deps.Log.Error(derr, "could not remove unpushed tag", "tag", rc.Tag)
		}
		return "", err
	}
	return rc.Tag, nil
}

// Lookup reports the tag as released when the remote (or, without a remote, the local repository) has it.
func (s *gitStep) Lookup(ctx context.Context, rc *release.Context) (*pipeline.Existing, error) {
	if s.repo == nil {
		return nil, nil
	}
	token, err := resolveToken(ctx, s.deps, s.opts.Token)
	if err != nil {
		return nil, err
	}
	found, err := s.repo.RemoteTagExists(ctx, rc.Tag, token)
	if err != nil || !found {
		return nil, err
	}
	return &pipeline.Existing{Source: "git", Ref: rc.Tag}, nil
}
