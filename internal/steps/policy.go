package steps

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/samber/lo"

	"github.com/example/semrel/internal/analyzer"
	"github.com/example/semrel/internal/errdefs"
	"github.com/example/semrel/internal/pipeline"
	"github.com/example/semrel/internal/policy"
	"github.com/example/semrel/internal/release"
)

const defaultPolicyDir = ".semrel/policy"

type policyOptions struct {
	Dir    string `yaml:"dir"`
	Mode   string `yaml:"mode"`
	Query  string `yaml:"query"`
	Report string `yaml:"report"`
}

// policyStep gates the release on a rego bundle during verify.
type policyStep struct {
	ref    string
	report string
	mode   policy.Mode
	query  string
	log    logr.Logger
	now    func() time.Time
}

func newPolicyStep(deps Deps, raw map[string]any) (pipeline.Step, error) {
	var opts policyOptions
	if err := decode("policy", raw, &opts); err != nil {
		return nil, err
	}
	mode, err := policy.ParseMode(opts.Mode)
	if err != nil {
		return nil, errdefs.Configf("stepOptions.policy.mode", "%v", err)
	}
	ref := strings.TrimSpace(opts.Dir)
	if ref == "" {
		ref = defaultPolicyDir
	}
	s := &policyStep{
		ref:   rooted(deps.Root, ref),
		mode:  mode,
		query: opts.Query,
		log:   deps.Log,
		now:   time.Now,
	}
	if r := strings.TrimSpace(opts.Report); r != "" {
		s.report = rooted(deps.Root, r)
	}
	return s, nil
}

func rooted(root, p string) string {
	if filepath.IsAbs(p) || root == "" {
		return p
	}
	return filepath.Join(root, p)
}

func (s *policyStep) Name() string { return "policy" }

func (s *policyStep) Verify(ctx context.Context, rc *release.Context) error {
	bundle, err := policy.LoadBundle(s.ref)
	if err != nil {
		return err
	}
	defer bundle.Close()

	rep, err := policy.EvaluateWithQuery(ctx, bundle, policyInput(rc, s.now()), s.mode, s.query)
	if err != nil {
		return err
	}
	if s.report != "" {
		if err := policy.WriteReport(s.report, rep); err != nil {
			return err
		}
	}
	for _, w := range rep.Warn {
		s.log.Info("policy warning", "message", w.String())
	}
	if rep.Blocking() {
		return rep.Err()
	}
	for _, d := range rep.Deny {
		s.log.Info("policy violation ignored in warn mode", "message", d.String())
	}
	return nil
}

func policyInput(rc *release.Context, now time.Time) policy.Input {
	in := policy.Input{
		WhenUTC:    now.UTC(),
		Branch:     rc.Branch,
		Channel:    rc.Channel.Name,
		Prerelease: rc.Channel.Prerelease,
		Version:    rc.NextVersion.String(),
		Tag:        rc.Tag,
		Severity:   rc.Severity.String(),
		Head:       rc.Head,
		Notes:      rc.Notes,
		Commits: lo.Map(rc.Records, func(c analyzer.Classified, _ int) policy.Commit {
			return policy.Commit{
				ID:       c.Record.ID,
				Type:     c.Record.Type,
				Scope:    c.Record.Scope,
				Subject:  c.Record.Subject,
				Breaking: c.Record.Breaking,
				Severity: c.Severity.String(),
			}
		}),
	}
	if rc.LastReleased != nil {
		in.PreviousVersion = rc.LastReleased.String()
	}
	return in
}
