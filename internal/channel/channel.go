// File: internal/channel/channel.go
// Brief: Branch-pattern to release-channel table and branch resolution.

package channel

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/moby/patternmatcher"

	"github.com/example/semrel/internal/errdefs"
)

// ErrNotReleased is returned by Resolve when no channel accepts the branch.
var ErrNotReleased = errors.New("branch is not configured for releases")

var identifierPattern = regexp.MustCompile(`^[0-9A-Za-z-]+$`)

// Channel is one independently versioned release lineage.
type Channel struct {
	Name                 string `yaml:"name"`
	Match                string `yaml:"match,omitempty"`
	Prerelease           bool   `yaml:"prerelease,omitempty"`
	PrereleaseIdentifier string `yaml:"prereleaseIdentifier,omitempty"`
}

// Pattern returns the branch glob for the channel; the name itself when no match is set.
func (c Channel) Pattern() string {
	if m := strings.TrimSpace(c.Match); m != "" {
		return m
	}
	return strings.TrimSpace(c.Name)
}

// Identifier returns the pre-release label, defaulting to the channel name.
func (c Channel) Identifier() string {
	if !c.Prerelease {
		return ""
	}
	if id := strings.TrimSpace(c.PrereleaseIdentifier); id != "" {
		return id
	}
	return strings.TrimSpace(c.Name)
}

func (c Channel) Kind() string {
	if c.Prerelease {
		return "prerelease"
	}
	return "stable"
}

// Default mirrors the stock branch layout: main is stable, dynamic-issuer ships pre-releases.
func Default() []Channel {
	return []Channel{
		{Name: "main"},
		{Name: "dynamic-issuer", Prerelease: true},
	}
}

type entry struct {
	channel Channel
	matcher *patternmatcher.PatternMatcher
	// segments is the number of "/"-separated parts a branch must have; 0 when the
	// pattern contains "**" and may span any depth.
	segments int
}

// matches reports whether branch satisfies the entry's glob. patternmatcher also
// accepts paths below a matching directory, so the depth is checked first.
func (e entry) matches(branch string) (bool, error) {
	if e.segments > 0 && strings.Count(branch, "/")+1 != e.segments {
		return false, nil
	}
	return e.matcher.MatchesOrParentMatches(branch)
}

func newEntry(ch Channel) (entry, error) {
	pattern := path.Clean(ch.Pattern())
	pm, err := patternmatcher.New([]string{pattern})
	if err != nil {
		return entry{}, err
	}
	e := entry{channel: ch, matcher: pm}
	if !strings.Contains(pattern, "**") {
		e.segments = strings.Count(pattern, "/") + 1
	}
	// Matchers compile on first use; do it here so Resolve only reads.
	if _, err := pm.MatchesOrParentMatches(ch.Name); err != nil {
		return entry{}, err
	}
	return e, nil
}

// Table is the frozen, ordered channel list. It is safe for concurrent use.
type Table struct {
	entries []entry
}

// NewTable validates channels and freezes them in configured order.
func NewTable(channels []Channel) (*Table, error) {
	if len(channels) == 0 {
		return nil, errdefs.Configf("channels", "at least one channel is required")
	}
	names := map[string]struct{}{}
	patterns := map[string]string{}
	ids := map[string]string{}
	stable := 0
	t := &Table{entries: make([]entry, 0, len(channels))}
	for i, ch := range channels {
		field := fmt.Sprintf("channels[%d]", i)
		ch.Name = strings.TrimSpace(ch.Name)
		ch.Match = strings.TrimSpace(ch.Match)
		ch.PrereleaseIdentifier = strings.TrimSpace(ch.PrereleaseIdentifier)
		if ch.Name == "" {
			return nil, errdefs.Configf(field+".name", "must not be empty")
		}
		if _, dup := names[ch.Name]; dup {
			return nil, errdefs.Configf(field+".name", "duplicate channel %q", ch.Name)
		}
		names[ch.Name] = struct{}{}

		pattern := ch.Pattern()
		if strings.HasPrefix(pattern, "!") {
			return nil, errdefs.Configf(field+".match", "exclusion patterns are not supported: %q", pattern)
		}
		if other, dup := patterns[pattern]; dup {
			return nil, errdefs.Configf(field+".match", "pattern %q already used by channel %q", pattern, other)
		}
		patterns[pattern] = ch.Name
		e, err := newEntry(ch)
		if err != nil {
			return nil, &errdefs.ConfigError{Field: field + ".match", Err: err}
		}

		if ch.Prerelease {
			id := ch.Identifier()
			if !identifierPattern.MatchString(id) {
				return nil, errdefs.Configf(field+".prereleaseIdentifier", "%q is not a valid pre-release identifier", id)
			}
			if other, dup := ids[id]; dup {
				return nil, errdefs.Configf(field+".prereleaseIdentifier", "identifier %q already used by channel %q", id, other)
			}
			ids[id] = ch.Name
		} else {
			if ch.PrereleaseIdentifier != "" {
				return nil, errdefs.Configf(field+".prereleaseIdentifier", "only pre-release channels take an identifier")
			}
			stable++
		}
		t.entries = append(t.entries, e)
	}
	if stable == 0 {
		return nil, errdefs.Configf("channels", "at least one stable channel is required")
	}
	return t, nil
}

// Resolve returns the first channel, in configured order, whose pattern accepts branch.
func (t *Table) Resolve(branch string) (Channel, error) {
	branch = strings.TrimSpace(branch)
	if t == nil || branch == "" {
		return Channel{}, ErrNotReleased
	}
	for _, e := range t.entries {
		ok, err := e.matches(branch)
		if err != nil {
			return Channel{}, fmt.Errorf("match branch %q against %q: %w", branch, e.channel.Pattern(), err)
		}
		if ok {
			return e.channel, nil
		}
	}
	return Channel{}, fmt.Errorf("%w: %s", ErrNotReleased, branch)
}

// Channels returns a copy of the configured channels in order.
func (t *Table) Channels() []Channel {
	if t == nil {
		return nil
	}
	out := make([]Channel, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.channel)
	}
	return out
}

// Lookup finds a channel by name.
func (t *Table) Lookup(name string) (Channel, bool) {
	if t == nil {
		return Channel{}, false
	}
	for _, e := range t.entries {
		if e.channel.Name == name {
			return e.channel, true
		}
	}
	return Channel{}, false
}
