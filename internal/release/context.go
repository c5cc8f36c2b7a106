// Package release holds the per-run state shared by the engine and the publish pipeline.
package release

import (
	"errors"
	"strings"
	"time"

	"github.com/example/semrel/internal/analyzer"
	"github.com/example/semrel/internal/channel"
	"github.com/example/semrel/internal/errdefs"
	"github.com/example/semrel/internal/versioning"
)

// Status is the terminal status of a run.
type Status string

const (
	StatusSucceeded       Status = "succeeded"
	StatusFailed          Status = "failed"
	StatusAborted         Status = "aborted"
	StatusAlreadyReleased Status = "already-released"
	StatusNoReleaseNeeded Status = "no-release-needed"
	StatusNotReleased     Status = "not-released"
	StatusDryRun          Status = "dry-run"
	// StatusError covers configuration and internal errors raised outside the pipeline.
	StatusError Status = "error"
)

// StepStatus is the recorded state of one publish step.
type StepStatus string

const (
	StepSkipped   StepStatus = "skipped"
	StepVerified  StepStatus = "verified"
	StepPrepared  StepStatus = "prepared"
	StepPublished StepStatus = "published"
	StepFailed    StepStatus = "failed"
)

type StepResult struct {
	Step        string
	Status      StepStatus
	ArtifactRef string
	Err         error
	Duration    time.Duration
}

// Detail returns the error text, empty when the step did not fail.
func (r StepResult) Detail() string {
	if r.Err == nil {
		return ""
	}
	return strings.TrimSpace(r.Err.Error())
}

// Context is the typed state threaded through one run. The engine fills everything up
// to Notes; prepare steps may set Tag, Head and Artifacts; publish steps only add Artifacts.
type Context struct {
	RunID     string
	Branch    string
	Channel   channel.Channel
	TagPrefix string
	DryRun    bool

	Head           string
	LastReleased   *versioning.Version
	LastPrerelease *versioning.Version
	Records        []analyzer.Classified
	Severity       analyzer.Severity
	NextVersion    versioning.Version
	Notes          string
	Tag            string

	Artifacts   map[string]string
	StepResults []StepResult
}

// SetArtifact records the artifact a step produced.
func (c *Context) SetArtifact(step, ref string) {
	if c == nil || strings.TrimSpace(ref) == "" {
		return
	}
	if c.Artifacts == nil {
		c.Artifacts = map[string]string{}
	}
	c.Artifacts[step] = ref
}

// Result returns the recorded result for step.
func (c *Context) Result(step string) (StepResult, bool) {
	if c == nil {
		return StepResult{}, false
	}
	for _, r := range c.StepResults {
		if r.Step == step {
			return r, true
		}
	}
	return StepResult{}, false
}

// Outcome is what a run reports to the invoking shell.
type Outcome struct {
	RunID   string
	Status  Status
	Channel string
	Branch  string
	Version string
	Tag     string
	Notes   string
	Steps   []StepResult
	Err     error
}

// ExitCode maps the outcome to a process exit status.
func (o Outcome) ExitCode() int {
	switch o.Status {
	case StatusSucceeded, StatusAlreadyReleased, StatusNotReleased, StatusNoReleaseNeeded, StatusDryRun:
		return 0
	case StatusAborted, StatusFailed:
		return 1
	default:
		return 2
	}
}

// StatusForError maps a pipeline or engine error to its terminal status.
func StatusForError(err error) Status {
	var (
		verifyErr  *errdefs.PluginVerifyError
		publishErr *errdefs.PluginPublishError
	)
	switch {
	case err == nil:
		return StatusSucceeded
	case errors.Is(err, errdefs.ErrNoReleaseNeeded):
		return StatusNoReleaseNeeded
	case errors.Is(err, errdefs.ErrAlreadyReleased):
		return StatusAlreadyReleased
	case errors.Is(err, channel.ErrNotReleased):
		return StatusNotReleased
	case errors.As(err, &verifyErr):
		return StatusAborted
	case errors.As(err, &publishErr):
		return StatusFailed
	default:
		return StatusError
	}
}
