// Package errdefs holds the release error taxonomy shared by every layer of semrel.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoReleaseNeeded marks a run whose history carries no releasable change.
	ErrNoReleaseNeeded = errors.New("no release needed")
	// ErrAlreadyReleased marks a run whose computed version already exists on the channel.
	ErrAlreadyReleased = errors.New("version already released")
)

// ConfigError reports malformed channel, step or convention configuration.
// It is always raised before any pipeline phase starts.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid configuration"
	}
	field := strings.TrimSpace(e.Field)
	if field == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration %s: %v", field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Configf builds a ConfigError for field.
func Configf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// VersionReason enumerates why no valid next version could be produced.
type VersionReason string

const (
	ReasonNoReleaseNeeded VersionReason = "no-release-needed"
	ReasonNotMonotonic    VersionReason = "not-monotonic"
	ReasonInvalid         VersionReason = "invalid"
)

type VersionError struct {
	Reason VersionReason
	Detail string
}

func (e *VersionError) Error() string {
	if e == nil {
		return "version error"
	}
	detail := strings.TrimSpace(e.Detail)
	switch e.Reason {
	case ReasonNoReleaseNeeded:
		if detail == "" {
			return ErrNoReleaseNeeded.Error()
		}
		return fmt.Sprintf("%s: %s", ErrNoReleaseNeeded, detail)
	case ReasonNotMonotonic:
		return fmt.Sprintf("next version is not greater than the last release: %s", detail)
	default:
		return fmt.Sprintf("invalid version: %s", detail)
	}
}

// Is lets errors.Is(err, ErrNoReleaseNeeded) match the informational outcome.
func (e *VersionError) Is(target error) bool {
	return e != nil && target == ErrNoReleaseNeeded && e.Reason == ReasonNoReleaseNeeded
}

// StepFailure pairs a step name with the error it returned.
type StepFailure struct {
	Step string
	Err  error
}

// PluginVerifyError aggregates every verify failure of one run.
type PluginVerifyError struct {
	Failures []StepFailure
}

func (e *PluginVerifyError) Error() string {
	if e == nil || len(e.Failures) == 0 {
		return "release verification failed"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "release verification failed (%d step(s)):\n", len(e.Failures))
	for _, f := range e.Failures {
		msg := "unknown error"
		if f.Err != nil {
			msg = strings.TrimSpace(f.Err.Error())
		}
		fmt.Fprintf(&b, "- %s: %s\n", f.Step, msg)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *PluginVerifyError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			out = append(out, f.Err)
		}
	}
	return out
}

// PluginPublishError is the fail-fast error of the prepare and publish phases.
type PluginPublishError struct {
	Step  string
	Phase string
	Err   error
}

func (e *PluginPublishError) Error() string {
	if e == nil {
		return "release publish failed"
	}
	return fmt.Sprintf("%s step %q failed: %v", e.Phase, e.Step, e.Err)
}

func (e *PluginPublishError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
