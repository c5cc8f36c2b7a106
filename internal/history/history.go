// Package history reads release tags and commit ranges from the repository being released.
package history

import (
	"context"
	"time"
)

// Raw is one change record as returned by a Provider.
type Raw struct {
	ID        string
	Message   string
	Timestamp time.Time
}

// Record is a Raw entry after convention parsing. Records are immutable once built.
type Record struct {
	ID        string
	Message   string
	Type      string
	Scope     string
	Subject   string
	Body      string
	Breaking  bool
	Timestamp time.Time
}

// Tag is a release marker reachable from the current head.
type Tag struct {
	Name   string
	Commit string
	Date   time.Time
}

// Provider is the history collaborator consumed by the engine.
type Provider interface {
	// Head returns the commit id the run releases.
	Head(ctx context.Context) (string, error)
	// Releases returns the tags reachable from Head.
	Releases(ctx context.Context) ([]Tag, error)
	// Between returns, oldest first, the records reachable from to but not from from.
	// An empty from means the whole history of to.
	Between(ctx context.Context, from, to string) ([]Raw, error)
}
