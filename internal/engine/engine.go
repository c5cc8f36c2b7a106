// Package engine runs one release: it resolves the channel, reads history, computes
// the next version and notes, and drives the publish pipeline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/example/semrel/internal/analyzer"
	"github.com/example/semrel/internal/appconfig"
	"github.com/example/semrel/internal/channel"
	"github.com/example/semrel/internal/errdefs"
	"github.com/example/semrel/internal/history"
	"github.com/example/semrel/internal/ledger"
	"github.com/example/semrel/internal/notes"
	"github.com/example/semrel/internal/pipeline"
	"github.com/example/semrel/internal/release"
	"github.com/example/semrel/internal/versioning"
)

// Settings are the typed values derived from the configuration file.
type Settings struct {
	Channels  *channel.Table
	Rules     analyzer.Rules
	TagPrefix string
	Force     bool
	Workers   int
}

// SettingsFromConfig converts cfg; any invalid value is a ConfigError.
func SettingsFromConfig(cfg appconfig.Config) (Settings, error) {
	chans := cfg.Channels
	if len(chans) == 0 {
		chans = channel.Default()
	}
	table, err := channel.NewTable(chans)
	if err != nil {
		return Settings{}, err
	}
	rules, err := analyzer.RulesFromConfig(cfg.Conventions.Types)
	if err != nil {
		return Settings{}, &errdefs.ConfigError{Field: "conventions.types", Err: err}
	}
	if cfg.Analysis.Workers < 0 {
		return Settings{}, errdefs.Configf("analysis.workers", "must not be negative")
	}
	return Settings{
		Channels:  table,
		Rules:     rules,
		TagPrefix: cfg.Prefix(),
		Force:     cfg.ForceRelease(),
		Workers:   cfg.Analysis.Workers,
	}, nil
}

type Options struct {
	Settings Settings
	History  history.Provider
	Entries  []pipeline.Entry
	// Ledger is optional; without it runs are not recorded.
	Ledger    *ledger.Store
	Checkers  []pipeline.ExistenceChecker
	Observers []pipeline.Observer
	Renderer  notes.Renderer
	Owner     string
	Log       logr.Logger
	// StepTimeout applies to steps without their own timeout.
	StepTimeout time.Duration

	now func() time.Time
}

type Engine struct {
	opts     Options
	analyzer *analyzer.Analyzer
	notes    *notes.Generator
	now      func() time.Time
}

func New(opts Options) *Engine {
	now := opts.now
	if now == nil {
		now = time.Now
	}
	if strings.TrimSpace(opts.Owner) == "" {
		opts.Owner = ledger.DefaultOwner()
	}
	return &Engine{
		opts: opts,
		analyzer: analyzer.New(analyzer.Options{
			Rules:   opts.Settings.Rules,
			Workers: opts.Settings.Workers,
			Log:     opts.Log,
		}),
		notes: notes.NewGenerator(opts.Renderer),
		now:   now,
	}
}

// Channels returns the configured channel table.
func (e *Engine) Channels() *channel.Table { return e.opts.Settings.Channels }

func newRunID(now time.Time) string {
	return now.UTC().Format("2006-01-02T15-04-05.000000000Z")
}

// Run performs one release attempt for branch. The outcome is always populated;
// Err carries the detail of every non-success status.
func (e *Engine) Run(ctx context.Context, branch string, dryRun bool) release.Outcome {
	log := e.opts.Log
	out := release.Outcome{RunID: newRunID(e.now()), Branch: strings.TrimSpace(branch)}

	ch, err := e.opts.Settings.Channels.Resolve(out.Branch)
	if err != nil {
		out.Status, out.Err = release.StatusForError(err), err
		if errors.Is(err, channel.ErrNotReleased) {
			log.Info("branch is not a release channel", "branch", out.Branch)
		}
		return out
	}
	out.Channel = ch.Name
	log = log.WithValues("channel", ch.Name)

	store := e.opts.Ledger
	if err := store.CreateRun(ctx, out.RunID, out.Branch, ch.Name, e.opts.Owner); err != nil {
		out.Status, out.Err = release.StatusError, err
		return out
	}
	observers := append([]pipeline.Observer(nil), e.opts.Observers...)
	if store != nil {
		observers = append(observers, store.Observer(ctx, log))
	}
	emitter := &pipeline.Emitter{RunID: out.RunID, Observers: observers}
	emitter.Emit(pipeline.Event{Type: pipeline.RunStarted, Message: fmt.Sprintf("branch=%s channel=%s dryRun=%t", out.Branch, ch.Name, dryRun)})

	rc := &release.Context{
		RunID:     out.RunID,
		Branch:    out.Branch,
		Channel:   ch,
		TagPrefix: e.opts.Settings.TagPrefix,
		DryRun:    dryRun,
	}
	status, err := e.release(ctx, rc, emitter, log)
	out.Status, out.Err = status, err
	out.Version, out.Tag, out.Notes = versionString(rc), rc.Tag, rc.Notes
	out.Steps = append([]release.StepResult(nil), rc.StepResults...)

	if status == release.StatusSucceeded {
		if err := store.RecordRelease(context.WithoutCancel(ctx), rc); err != nil {
			log.Error(err, "ledger: record release failed", "version", out.Version)
		}
	}
	msg := string(status)
	if out.Version != "" {
		msg += " version=" + out.Version
	}
	ev := pipeline.Event{Type: pipeline.RunCompleted, Message: msg}
	if err != nil {
		ev.Error = err.Error()
	}
	emitter.Emit(ev)
	if err := store.FinishRun(context.WithoutCancel(ctx), out); err != nil {
		log.Error(err, "ledger: finish run failed")
	}
	log.Info("run finished", "status", string(status), "version", out.Version)
	return out
}

func versionString(rc *release.Context) string {
	if rc.Tag == "" {
		return ""
	}
	return rc.NextVersion.String()
}

// release fills rc up to the notes and hands it to the pipeline.
func (e *Engine) release(ctx context.Context, rc *release.Context, emitter *pipeline.Emitter, log logr.Logger) (release.Status, error) {
	if e.opts.History == nil {
		return release.StatusError, errors.New("history provider is not configured")
	}
	head, err := e.opts.History.Head(ctx)
	if err != nil {
		return release.StatusError, err
	}
	rc.Head = head

	tags, err := e.opts.History.Releases(ctx)
	if err != nil {
		return release.StatusError, err
	}
	lineage := versioning.FindLineage(tags, rc.TagPrefix, rc.Channel)
	from := ""
	if marker := lineage.Marker(rc.Channel); marker != nil {
		from = marker.Tag.Commit
		log.V(1).Info("history starts after release tag", "tag", marker.Tag.Name)
	}
	raws, err := e.opts.History.Between(ctx, from, head)
	if err != nil {
		return release.StatusError, err
	}
	res, err := e.analyzer.Analyze(ctx, raws)
	if err != nil {
		return release.StatusError, err
	}
	rc.Records, rc.Severity = res.Records, res.Severity

	in := versioning.Input{Severity: res.Severity, Channel: rc.Channel, Force: e.opts.Settings.Force}
	if lineage.Stable != nil {
		v := lineage.Stable.Version
		in.LastStable, rc.LastReleased = &v, &v
	}
	if lineage.Prerelease != nil {
		v := lineage.Prerelease.Version
		in.LastPrerelease, rc.LastPrerelease = &v, &v
	}
	next, err := versioning.Next(in)
	if err != nil {
		if errors.Is(err, errdefs.ErrNoReleaseNeeded) {
			log.Info("no release needed", "records", len(rc.Records))
			return release.StatusNoReleaseNeeded, err
		}
		return release.StatusError, err
	}
	if err := e.checkLedger(ctx, rc.Channel.Name, next); err != nil {
		return release.StatusError, err
	}
	rc.NextVersion = next
	rc.Tag = next.Tag(rc.TagPrefix)
	rc.Notes, err = e.notes.Generate(next.String(), rc.Tag, rc.Channel.Name, rc.Records)
	if err != nil {
		return release.StatusError, err
	}
	log.Info("next version computed", "version", next.String(), "severity", res.Severity.String(), "records", len(rc.Records))

	checkers := append([]pipeline.ExistenceChecker(nil), e.opts.Checkers...)
	if e.opts.Ledger != nil {
		checkers = append([]pipeline.ExistenceChecker{e.opts.Ledger}, checkers...)
	}
	p, err := pipeline.New(e.opts.Entries, pipeline.Options{
		Checkers:       checkers,
		Emitter:        emitter,
		Log:            e.opts.Log,
		DefaultTimeout: e.opts.StepTimeout,
	})
	if err != nil {
		return release.StatusError, err
	}
	return p.Run(ctx, rc)
}

// checkLedger guards monotonicity across runs whose tags are not visible locally.
// An equal version is left to the idempotency gate.
func (e *Engine) checkLedger(ctx context.Context, channelName string, next versioning.Version) error {
	latest, err := e.opts.Ledger.LatestRelease(ctx, channelName)
	if err != nil || latest == nil {
		return err
	}
	prev, err := versioning.Parse(latest.Version)
	if err != nil {
		return fmt.Errorf("ledger: recorded version %q: %w", latest.Version, err)
	}
	if next.Compare(prev) == 0 {
		return nil
	}
	return versioning.EnsureIncreasing(next, &prev)
}
