// File: internal/history/repository.go
// Brief: go-git backed history provider plus the tag/push primitives used by the git publish step.

package history

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/pkg/errors"
)

const DefaultRemote = "origin"

// Signature identifies the author of release commits and tags.
type Signature struct {
	Name  string
	Email string
}

func (s Signature) object() *object.Signature {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		name = "semrel"
	}
	email := strings.TrimSpace(s.Email)
	if email == "" {
		email = "semrel@localhost"
	}
	return &object.Signature{Name: name, Email: email, When: time.Now()}
}

// Repository reads and writes a local git checkout.
type Repository struct {
	repo   *git.Repository
	root   string
	remote string
}

// Open finds the repository containing path.
func Open(path, remote string) (*Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, errors.Wrapf(err, "open git repository at %s", path)
	}
	root := path
	if wt, err := repo.Worktree(); err == nil {
		root = wt.Filesystem.Root()
	}
	remote = strings.TrimSpace(remote)
	if remote == "" {
		remote = DefaultRemote
	}
	return &Repository{repo: repo, root: root, remote: remote}, nil
}

func (r *Repository) Root() string {
	return r.root
}

func (r *Repository) RemoteName() string {
	return r.remote
}

func (r *Repository) Head(ctx context.Context) (string, error) {
	_ = ctx
	ref, err := r.repo.Head()
	if err != nil {
		return "", errors.Wrap(err, "resolve HEAD")
	}
	return ref.Hash().String(), nil
}

// Branch returns the short name of the checked-out branch.
func (r *Repository) Branch() (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", errors.Wrap(err, "resolve HEAD")
	}
	if !ref.Name().IsBranch() {
		return "", errors.New("HEAD is detached")
	}
	return ref.Name().Short(), nil
}

func (r *Repository) Releases(ctx context.Context) ([]Tag, error) {
	head, err := r.repo.Head()
	if err != nil {
		return nil, errors.Wrap(err, "resolve HEAD")
	}
	reachable, err := r.ancestors(ctx, head.Hash())
	if err != nil {
		return nil, err
	}
	iter, err := r.repo.Tags()
	if err != nil {
		return nil, errors.Wrap(err, "list tags")
	}
	defer iter.Close()
	var out []Tag
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		commit, date, ok, err := r.peel(ref)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if _, found := reachable[commit]; !found {
			return nil
		}
		out = append(out, Tag{Name: ref.Name().Short(), Commit: commit.String(), Date: date})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "walk tags")
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// peel resolves a tag reference to the commit it marks. ok is false for tags of non-commit objects.
func (r *Repository) peel(ref *plumbing.Reference) (plumbing.Hash, time.Time, bool, error) {
	tagObj, err := r.repo.TagObject(ref.Hash())
	switch {
	case err == nil:
		commit, cerr := tagObj.Commit()
		if cerr != nil {
			if stderrors.Is(cerr, object.ErrUnsupportedObject) {
				return plumbing.ZeroHash, time.Time{}, false, nil
			}
			return plumbing.ZeroHash, time.Time{}, false, errors.Wrapf(cerr, "peel tag %s", ref.Name().Short())
		}
		return commit.Hash, tagObj.Tagger.When, true, nil
	case stderrors.Is(err, plumbing.ErrObjectNotFound):
		commit, cerr := r.repo.CommitObject(ref.Hash())
		if cerr != nil {
			return plumbing.ZeroHash, time.Time{}, false, nil
		}
		return commit.Hash, commit.Committer.When, true, nil
	default:
		return plumbing.ZeroHash, time.Time{}, false, errors.Wrapf(err, "read tag %s", ref.Name().Short())
	}
}

func (r *Repository) Between(ctx context.Context, from, to string) ([]Raw, error) {
	if strings.TrimSpace(to) == "" {
		to = "HEAD"
	}
	toHash, err := r.resolve(to)
	if err != nil {
		return nil, err
	}
	exclude := map[plumbing.Hash]struct{}{}
	if strings.TrimSpace(from) != "" {
		fromHash, err := r.resolve(from)
		if err != nil {
			return nil, err
		}
		exclude, err = r.ancestors(ctx, fromHash)
		if err != nil {
			return nil, err
		}
	}
	iter, err := r.repo.Log(&git.LogOptions{From: toHash, Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, errors.Wrapf(err, "log %s", to)
	}
	defer iter.Close()
	var out []Raw
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, skip := exclude[c.Hash]; skip {
			return nil
		}
		out = append(out, Raw{ID: c.Hash.String(), Message: c.Message, Timestamp: c.Committer.When})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walk history %s..%s", from, to)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *Repository) resolve(rev string) (plumbing.Hash, error) {
	hash, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return plumbing.ZeroHash, errors.Wrapf(err, "resolve %s", rev)
	}
	return *hash, nil
}

func (r *Repository) ancestors(ctx context.Context, from plumbing.Hash) (map[plumbing.Hash]struct{}, error) {
	iter, err := r.repo.Log(&git.LogOptions{From: from})
	if err != nil {
		return nil, errors.Wrapf(err, "log %s", from)
	}
	defer iter.Close()
	seen := map[plumbing.Hash]struct{}{}
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		seen[c.Hash] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walk ancestors of %s", from)
	}
	return seen, nil
}

func (r *Repository) TagExists(name string) (bool, error) {
	_, err := r.repo.Tag(name)
	if err == nil {
		return true, nil
	}
	if stderrors.Is(err, git.ErrTagNotFound) {
		return false, nil
	}
	return false, errors.Wrapf(err, "lookup tag %s", name)
}

// CreateTag writes an annotated tag at HEAD and returns the tagged commit.
func (r *Repository) CreateTag(name, message string, tagger Signature) (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", errors.Wrap(err, "resolve HEAD")
	}
	if strings.TrimSpace(message) == "" {
		message = name
	}
	_, err = r.repo.CreateTag(name, head.Hash(), &git.CreateTagOptions{
		Tagger:  tagger.object(),
		Message: message,
	})
	if err != nil {
		return "", errors.Wrapf(err, "create tag %s", name)
	}
	return head.Hash().String(), nil
}

// DeleteTag removes a local tag; missing tags are ignored.
func (r *Repository) DeleteTag(name string) error {
	err := r.repo.DeleteTag(name)
	if err == nil || stderrors.Is(err, git.ErrTagNotFound) {
		return nil
	}
	return errors.Wrapf(err, "delete tag %s", name)
}

// CommitFiles stages paths (relative to the worktree root) and commits them. It returns
// the new HEAD and whether a commit was made.
func (r *Repository) CommitFiles(paths []string, message string, author Signature) (string, bool, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", false, errors.Wrap(err, "open worktree")
	}
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := wt.Add(p); err != nil {
			return "", false, errors.Wrapf(err, "stage %s", p)
		}
	}
	status, err := wt.Status()
	if err != nil {
		return "", false, errors.Wrap(err, "worktree status")
	}
	staged := false
	for _, fs := range status {
		if fs.Staging != git.Unmodified && fs.Staging != git.Untracked {
			staged = true
			break
		}
	}
	if !staged {
		head, err := r.Head(context.Background())
		return head, false, err
	}
	hash, err := wt.Commit(message, &git.CommitOptions{Author: author.object()})
	if err != nil {
		return "", false, errors.Wrap(err, "commit release files")
	}
	return hash.String(), true, nil
}

// Dirty lists tracked paths with uncommitted changes. Untracked files are ignored.
func (r *Repository) Dirty() ([]string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, errors.Wrap(err, "open worktree")
	}
	status, err := wt.Status()
	if err != nil {
		return nil, errors.Wrap(err, "worktree status")
	}
	var out []string
	for path, fs := range status {
		if fs.Worktree == git.Untracked && fs.Staging == git.Untracked {
			continue
		}
		if fs.Worktree == git.Unmodified && fs.Staging == git.Unmodified {
			continue
		}
		out = append(out, path)
	}
	sort.Strings(out)
	return out, nil
}

func (r *Repository) RemoteURL() (string, error) {
	rem, err := r.repo.Remote(r.remote)
	if err != nil {
		return "", errors.Wrapf(err, "remote %s", r.remote)
	}
	urls := rem.Config().URLs
	if len(urls) == 0 {
		return "", errors.Errorf("remote %s has no url", r.remote)
	}
	return urls[0], nil
}

func tokenAuth(token string) transport.AuthMethod {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: token}
}

// RemoteTagExists reports whether the remote carries tag name. Without a configured
// remote the local tag list answers instead.
func (r *Repository) RemoteTagExists(ctx context.Context, name, token string) (bool, error) {
	rem, err := r.repo.Remote(r.remote)
	if stderrors.Is(err, git.ErrRemoteNotFound) {
		return r.TagExists(name)
	}
	if err != nil {
		return false, errors.Wrapf(err, "remote %s", r.remote)
	}
	refs, err := rem.ListContext(ctx, &git.ListOptions{Auth: tokenAuth(token)})
	if stderrors.Is(err, transport.ErrEmptyRemoteRepository) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "list remote %s", r.remote)
	}
	want := plumbing.NewTagReferenceName(name)
	for _, ref := range refs {
		if ref.Name() == want {
			return true, nil
		}
	}
	return false, nil
}

// PushTag pushes tag and, when branch is set, the branch it was cut from.
func (r *Repository) PushTag(ctx context.Context, tag, branch, token string) error {
	specs := []config.RefSpec{
		config.RefSpec("refs/tags/" + tag + ":refs/tags/" + tag),
	}
	if b := strings.TrimSpace(branch); b != "" {
		specs = append(specs, config.RefSpec("refs/heads/"+b+":refs/heads/"+b))
	}
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return errors.Wrapf(err, "refspec %s", spec)
		}
	}
	err := r.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: r.remote,
		RefSpecs:   specs,
		Auth:       tokenAuth(token),
	})
	if err != nil && !stderrors.Is(err, git.NoErrAlreadyUpToDate) {
		return errors.Wrapf(err, "push %s to %s", tag, r.remote)
	}
	return nil
}
