package versioning

import (
	"fmt"

	"github.com/example/semrel/internal/analyzer"
	"github.com/example/semrel/internal/channel"
	"github.com/example/semrel/internal/errdefs"
	"github.com/example/semrel/internal/history"
)

// First is the version of the first release on a lineage without prior releases.
var First = Version{Major: 1}

// Input carries everything Next needs. LastPrerelease is only consulted on
// pre-release channels and must carry the channel's label.
type Input struct {
	LastStable     *Version
	LastPrerelease *Version
	Severity       analyzer.Severity
	Channel        channel.Channel
	Force          bool
}

// Next computes the next version of in.Channel.
func Next(in Input) (Version, error) {
	sev := in.Severity
	if sev == analyzer.None {
		if !in.Force {
			return Version{}, &errdefs.VersionError{Reason: errdefs.ReasonNoReleaseNeeded, Detail: "no change warrants a release"}
		}
		sev = analyzer.Patch
	}
	if in.LastStable != nil && in.LastStable.IsPrerelease() {
		return Version{}, &errdefs.VersionError{Reason: errdefs.ReasonInvalid, Detail: fmt.Sprintf("last stable version %s carries a pre-release label", in.LastStable)}
	}
	base := bump(in.LastStable, sev)
	if !in.Channel.Prerelease {
		if err := EnsureIncreasing(base, in.LastStable); err != nil {
			return Version{}, err
		}
		return base, nil
	}

	label := in.Channel.Identifier()
	next := Version{Major: base.Major, Minor: base.Minor, Patch: base.Patch, PrereleaseLabel: label, PrereleaseCounter: 1}
	if last := in.LastPrerelease; last != nil {
		if last.PrereleaseLabel != label {
			return Version{}, &errdefs.VersionError{Reason: errdefs.ReasonInvalid, Detail: fmt.Sprintf("last pre-release %s does not belong to channel %q", last, in.Channel.Name)}
		}
		lastBase := last.Base()
		switch cmp := base.Compare(lastBase); {
		case cmp == 0:
			next.PrereleaseCounter = last.PrereleaseCounter + 1
		case cmp < 0:
			// The lineage already runs ahead of the computed base; stay on it.
			next.Major, next.Minor, next.Patch = lastBase.Major, lastBase.Minor, lastBase.Patch
			next.PrereleaseCounter = last.PrereleaseCounter + 1
		}
	}
	if err := EnsureIncreasing(next, in.LastStable, in.LastPrerelease); err != nil {
		return Version{}, err
	}
	return next, nil
}

func bump(last *Version, sev analyzer.Severity) Version {
	if last == nil {
		return First
	}
	v := last.Base()
	switch sev {
	case analyzer.Major:
		return Version{Major: v.Major + 1}
	case analyzer.Minor:
		return Version{Major: v.Major, Minor: v.Minor + 1}
	default:
		return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
	}
}

// EnsureIncreasing fails with a NotMonotonic VersionError unless next is strictly
// greater than every non-nil previous version.
func EnsureIncreasing(next Version, previous ...*Version) error {
	for _, p := range previous {
		if p == nil {
			continue
		}
		if next.Compare(*p) <= 0 {
			return &errdefs.VersionError{Reason: errdefs.ReasonNotMonotonic, Detail: fmt.Sprintf("%s <= %s", next, p)}
		}
	}
	return nil
}

// Tagged is a parsed release tag.
type Tagged struct {
	Version Version
	Tag     history.Tag
}

// Lineage is what a channel's history looks like from the current head.
type Lineage struct {
	Stable     *Tagged
	Prerelease *Tagged
}

// Marker returns the tag the next history range starts after: the stable tag on
// stable channels, the higher of the two on pre-release channels.
func (l Lineage) Marker(ch channel.Channel) *Tagged {
	if !ch.Prerelease || l.Prerelease == nil {
		return l.Stable
	}
	if l.Stable == nil || l.Prerelease.Version.Compare(l.Stable.Version) > 0 {
		return l.Prerelease
	}
	return l.Stable
}

// FindLineage picks the highest stable tag and, for pre-release channels, the highest
// tag carrying the channel's label.
func FindLineage(tags []history.Tag, prefix string, ch channel.Channel) Lineage {
	var out Lineage
	label := ch.Identifier()
	for _, tg := range tags {
		v, ok := ParseTag(tg.Name, prefix)
		if !ok {
			continue
		}
		cand := &Tagged{Version: v, Tag: tg}
		switch {
		case !v.IsPrerelease():
			if out.Stable == nil || v.Compare(out.Stable.Version) > 0 {
				out.Stable = cand
			}
		case ch.Prerelease && v.PrereleaseLabel == label:
			if out.Prerelease == nil || v.Compare(out.Prerelease.Version) > 0 {
				out.Prerelease = cand
			}
		}
	}
	return out
}
