// Package steps holds the built-in publish steps and the static registry that
// turns the configured step list into pipeline entries.
package steps

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	"github.com/samber/lo"

	"github.com/example/semrel/internal/appconfig"
	"github.com/example/semrel/internal/credentials"
	"github.com/example/semrel/internal/errdefs"
	"github.com/example/semrel/internal/history"
	"github.com/example/semrel/internal/pipeline"
)

// Deps are the collaborators shared by every step of a run.
type Deps struct {
	Root        string
	Repo        *history.Repository
	Credentials *credentials.Resolver
	Git         appconfig.GitConfig
	Log         logr.Logger
	// HTTPClient overrides the transport for API-backed steps.
	HTTPClient *http.Client
}

// Factory builds a step from its decoded option map.
type Factory func(deps Deps, options map[string]any) (pipeline.Step, error)

// Registry maps a step identifier to its factory.
func Registry() map[string]Factory {
	return map[string]Factory{
		"changelog": newChangelogStep,
		"exec":      newExecStep,
		"git":       newGitStep,
		"github":    newGitHubStep,
		"image":     newImageStep,
		"policy":    newPolicyStep,
	}
}

// Names lists the registered identifiers in alphabetical order.
func Names() []string {
	names := lo.Keys(Registry())
	sort.Strings(names)
	return names
}

// Build instantiates names in order. Unknown identifiers, duplicate entries,
// options for steps that are not enabled and unknown option keys are ConfigErrors.
func Build(names []string, options map[string]map[string]any, deps Deps) ([]pipeline.Entry, error) {
	reg := Registry()
	if dup := lo.FindDuplicates(names); len(dup) > 0 {
		return nil, errdefs.Configf("steps", "duplicate step %q", dup[0])
	}
	stray := lo.Filter(lo.Keys(options), func(name string, _ int) bool { return !lo.Contains(names, name) })
	if len(stray) > 0 {
		sort.Strings(stray)
		return nil, errdefs.Configf("stepOptions", "options for steps that are not enabled: %s", strings.Join(stray, ", "))
	}
	entries := make([]pipeline.Entry, 0, len(names))
	for i, name := range names {
		factory, ok := reg[name]
		if !ok {
			return nil, errdefs.Configf(fmt.Sprintf("steps[%d]", i), "unknown step %q (known: %s)", name, strings.Join(Names(), ", "))
		}
		opts, timeout, err := splitTimeout(name, options[name])
		if err != nil {
			return nil, err
		}
		step, err := factory(deps, opts)
		if err != nil {
			return nil, err
		}
		entries = append(entries, pipeline.NewEntry(i, step, timeout))
	}
	return entries, nil
}
