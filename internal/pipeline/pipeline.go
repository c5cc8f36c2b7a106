// Package pipeline runs publish steps through the verify, prepare and publish phases.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/example/semrel/internal/errdefs"
	"github.com/example/semrel/internal/notes"
	"github.com/example/semrel/internal/release"
)

const DefaultStepTimeout = 5 * time.Minute

// Step is a named publish step. Its capabilities come from the optional
// Verifier, Preparer and Publisher interfaces.
type Step interface {
	Name() string
}

type Verifier interface {
	Verify(ctx context.Context, rc *release.Context) error
}

// Preparer may mutate the context (stage a tag, move Head) for later steps.
type Preparer interface {
	Prepare(ctx context.Context, rc *release.Context) error
}

// Publisher performs the externally visible side effect and returns an artifact reference.
type Publisher interface {
	Publish(ctx context.Context, rc *release.Context) (string, error)
}

// CapabilityDeclarer narrows the capability set of a step whose interfaces are
// static but whose configuration enables only some phases.
type CapabilityDeclarer interface {
	Capabilities() Capabilities
}

type Capabilities struct {
	Verify  bool
	Prepare bool
	Publish bool
}

func (c Capabilities) String() string {
	var parts []string
	if c.Verify {
		parts = append(parts, PhaseVerify)
	}
	if c.Prepare {
		parts = append(parts, PhasePrepare)
	}
	if c.Publish {
		parts = append(parts, PhasePublish)
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

// CapabilitiesOf derives the capability set of s.
func CapabilitiesOf(s Step) Capabilities {
	_, v := s.(Verifier)
	_, pr := s.(Preparer)
	_, pu := s.(Publisher)
	c := Capabilities{Verify: v, Prepare: pr, Publish: pu}
	if d, ok := s.(CapabilityDeclarer); ok {
		declared := d.Capabilities()
		c.Verify = c.Verify && declared.Verify
		c.Prepare = c.Prepare && declared.Prepare
		c.Publish = c.Publish && declared.Publish
	}
	return c
}

// Existing describes a release artifact found by the idempotency gate.
type Existing struct {
	Source string
	Ref    string
	Notes  string
}

// ExistenceChecker reports whether rc.NextVersion was already released on rc.Channel.
// A nil Existing means not found.
type ExistenceChecker interface {
	Lookup(ctx context.Context, rc *release.Context) (*Existing, error)
}

// Entry is one step in the ordered, immutable list of a run.
type Entry struct {
	Name         string
	Order        int
	Step         Step
	Capabilities Capabilities
	Timeout      time.Duration
}

// NewEntry wraps step at position order.
func NewEntry(order int, step Step, timeout time.Duration) Entry {
	return Entry{
		Name:         step.Name(),
		Order:        order,
		Step:         step,
		Capabilities: CapabilitiesOf(step),
		Timeout:      timeout,
	}
}

type Options struct {
	// Checkers are consulted by the idempotency gate in addition to every step
	// that implements ExistenceChecker.
	Checkers       []ExistenceChecker
	Emitter        *Emitter
	Log            logr.Logger
	DefaultTimeout time.Duration
}

type Pipeline struct {
	entries        []Entry
	checkers       []ExistenceChecker
	emitter        *Emitter
	log            logr.Logger
	defaultTimeout time.Duration
}

func New(entries []Entry, opts Options) (*Pipeline, error) {
	seen := map[string]struct{}{}
	frozen := make([]Entry, 0, len(entries))
	checkers := append([]ExistenceChecker(nil), opts.Checkers...)
	for i, e := range entries {
		if e.Step == nil {
			return nil, errdefs.Configf(fmt.Sprintf("steps[%d]", i), "step is nil")
		}
		if strings.TrimSpace(e.Name) == "" {
			e.Name = e.Step.Name()
		}
		if _, dup := seen[e.Name]; dup {
			return nil, errdefs.Configf(fmt.Sprintf("steps[%d]", i), "duplicate step %q", e.Name)
		}
		seen[e.Name] = struct{}{}
		e.Order = i
		frozen = append(frozen, e)
		if c, ok := e.Step.(ExistenceChecker); ok {
			checkers = append(checkers, c)
		}
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	return &Pipeline{
		entries:        frozen,
		checkers:       checkers,
		emitter:        opts.Emitter,
		log:            opts.Log,
		defaultTimeout: timeout,
	}, nil
}

// Entries returns a copy of the ordered step list.
func (p *Pipeline) Entries() []Entry {
	return append([]Entry(nil), p.entries...)
}

// Run drives rc through the gate and the three phases. The returned status is
// terminal; the error carries the detail for every non-success status.
func (p *Pipeline) Run(ctx context.Context, rc *release.Context) (release.Status, error) {
	rc.StepResults = make([]release.StepResult, len(p.entries))
	for i, e := range p.entries {
		rc.StepResults[i] = release.StepResult{Step: e.Name, Status: release.StepSkipped}
	}

	if existing := p.gate(ctx, rc); existing != nil {
		return release.StatusAlreadyReleased, fmt.Errorf("%w: %s found by %s", errdefs.ErrAlreadyReleased, rc.Tag, existing.Source)
	}

	if err := p.verify(ctx, rc); err != nil {
		return release.StatusAborted, err
	}
	if rc.DryRun {
		p.log.Info("dry run: skipping prepare and publish", "version", rc.NextVersion.String())
		return release.StatusDryRun, nil
	}
	if err := p.prepare(ctx, rc); err != nil {
		return release.StatusFailed, err
	}
	// Once publishing starts the run goes to a terminal state; only per-step timeouts apply.
	if err := p.publish(context.WithoutCancel(ctx), rc); err != nil {
		return release.StatusFailed, err
	}
	return release.StatusSucceeded, nil
}

func (p *Pipeline) gate(ctx context.Context, rc *release.Context) *Existing {
	for _, c := range p.checkers {
		existing, err := c.Lookup(ctx, rc)
		if err != nil {
			p.log.Error(err, "existence check failed; continuing", "channel", rc.Channel.Name, "version", rc.NextVersion.String())
			p.emitter.Emit(Event{Type: GateChecked, Message: "existence check failed", Error: err.Error()})
			continue
		}
		if existing == nil {
			continue
		}
		p.emitter.Emit(Event{Type: GateChecked, Message: "already released", Step: existing.Source})
		p.log.Info("version already released", "channel", rc.Channel.Name, "version", rc.NextVersion.String(), "source", existing.Source, "ref", existing.Ref)
		if existing.Notes != "" && existing.Notes != rc.Notes {
			if diff, err := notes.Diff(existing.Notes, rc.Notes); err == nil && diff != "" {
				p.log.Info("recorded notes differ from computed notes", "version", rc.NextVersion.String(), "diff", diff)
			}
		}
		return existing
	}
	p.emitter.Emit(Event{Type: GateChecked, Message: "not released"})
	return nil
}

func (p *Pipeline) verify(ctx context.Context, rc *release.Context) error {
	p.emitter.Emit(Event{Type: PhaseStarted, Phase: PhaseVerify})
	var failures []errdefs.StepFailure
	for i, e := range p.entries {
		if !e.Capabilities.Verify {
			rc.StepResults[i].Status = release.StepVerified
			continue
		}
		v := e.Step.(Verifier)
		err := p.call(ctx, e, PhaseVerify, &rc.StepResults[i], func(ctx context.Context) error {
			return v.Verify(ctx, rc)
		})
		if err != nil {
			rc.StepResults[i].Status = release.StepFailed
			rc.StepResults[i].Err = err
			failures = append(failures, errdefs.StepFailure{Step: e.Name, Err: err})
			continue
		}
		rc.StepResults[i].Status = release.StepVerified
	}
	p.emitter.Emit(Event{Type: PhaseCompleted, Phase: PhaseVerify, Message: fmt.Sprintf("%d failure(s)", len(failures))})
	if len(failures) > 0 {
		return &errdefs.PluginVerifyError{Failures: failures}
	}
	return nil
}

func (p *Pipeline) prepare(ctx context.Context, rc *release.Context) error {
	p.emitter.Emit(Event{Type: PhaseStarted, Phase: PhasePrepare})
	for i, e := range p.entries {
		if !e.Capabilities.Prepare {
			continue
		}
		pr := e.Step.(Preparer)
		err := p.call(ctx, e, PhasePrepare, &rc.StepResults[i], func(ctx context.Context) error {
			return pr.Prepare(ctx, rc)
		})
		if err != nil {
			p.fail(rc, i, err)
			return &errdefs.PluginPublishError{Step: e.Name, Phase: PhasePrepare, Err: err}
		}
		rc.StepResults[i].Status = release.StepPrepared
	}
	p.emitter.Emit(Event{Type: PhaseCompleted, Phase: PhasePrepare})
	return nil
}

func (p *Pipeline) publish(ctx context.Context, rc *release.Context) error {
	p.emitter.Emit(Event{Type: PhaseStarted, Phase: PhasePublish})
	for i, e := range p.entries {
		if !e.Capabilities.Publish {
			continue
		}
		pub := e.Step.(Publisher)
		var ref string
		err := p.call(ctx, e, PhasePublish, &rc.StepResults[i], func(ctx context.Context) error {
			var err error
			ref, err = pub.Publish(ctx, rc)
			return err
		})
		if err != nil {
			p.fail(rc, i, err)
			return &errdefs.PluginPublishError{Step: e.Name, Phase: PhasePublish, Err: err}
		}
		rc.StepResults[i].Status = release.StepPublished
		rc.StepResults[i].ArtifactRef = strings.TrimSpace(ref)
		rc.SetArtifact(e.Name, ref)
	}
	p.emitter.Emit(Event{Type: PhaseCompleted, Phase: PhasePublish})
	return nil
}

// fail records step i as failed and every later step as skipped.
func (p *Pipeline) fail(rc *release.Context, i int, err error) {
	rc.StepResults[i].Status = release.StepFailed
	rc.StepResults[i].Err = err
	for j := i + 1; j < len(rc.StepResults); j++ {
		rc.StepResults[j].Status = release.StepSkipped
		rc.StepResults[j].ArtifactRef = ""
		p.emitter.Emit(Event{Type: StepSkipped, Step: rc.StepResults[j].Step})
	}
}

func (p *Pipeline) call(ctx context.Context, e Entry, phase string, res *release.StepResult, fn func(context.Context) error) error {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := p.log.WithValues("step", e.Name, "phase", phase)
	p.emitter.Emit(Event{Type: StepStarted, Phase: phase, Step: e.Name})
	start := time.Now()
	err := fn(sctx)
	if err == nil && errors.Is(sctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s", timeout)
	} else if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s: %w", timeout, err)
	}
	res.Duration += time.Since(start)
	if err != nil {
		log.Info("step failed", "error", err.Error())
		p.emitter.Emit(Event{Type: StepFailed, Phase: phase, Step: e.Name, Error: err.Error()})
		return err
	}
	log.V(1).Info("step finished", "duration", time.Since(start).String())
	p.emitter.Emit(Event{Type: StepSucceeded, Phase: phase, Step: e.Name})
	return nil
}
