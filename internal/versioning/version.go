// Package versioning parses release tags and computes the next version of a channel.
package versioning

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Version is a release version. Stable versions leave PrereleaseLabel empty.
type Version struct {
	Major             uint64
	Minor             uint64
	Patch             uint64
	PrereleaseLabel   string
	PrereleaseCounter uint64
}

func (v Version) IsPrerelease() bool {
	return v.PrereleaseLabel != ""
}

// Base drops the pre-release part.
func (v Version) Base() Version {
	return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch}
}

func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.PrereleaseLabel != "" {
		s += "-" + v.PrereleaseLabel + "." + strconv.FormatUint(v.PrereleaseCounter, 10)
	}
	return s
}

// Tag renders the version with prefix.
func (v Version) Tag(prefix string) string {
	return prefix + v.String()
}

func (v Version) semver() *semver.Version {
	pre := ""
	if v.PrereleaseLabel != "" {
		pre = v.PrereleaseLabel + "." + strconv.FormatUint(v.PrereleaseCounter, 10)
	}
	return semver.New(v.Major, v.Minor, v.Patch, pre, "")
}

// Compare orders versions by semver precedence.
func (v Version) Compare(o Version) int {
	return v.semver().Compare(o.semver())
}

// Parse accepts `X.Y.Z` and `X.Y.Z-label.N`. Other pre-release shapes are rejected
// because no channel produces them.
func Parse(raw string) (Version, error) {
	sv, err := semver.StrictNewVersion(strings.TrimSpace(raw))
	if err != nil {
		return Version{}, fmt.Errorf("parse version %q: %w", raw, err)
	}
	v := Version{Major: sv.Major(), Minor: sv.Minor(), Patch: sv.Patch()}
	pre := sv.Prerelease()
	if pre == "" {
		return v, nil
	}
	idx := strings.LastIndex(pre, ".")
	if idx <= 0 {
		return Version{}, fmt.Errorf("parse version %q: pre-release must look like <label>.<n>", raw)
	}
	counter, err := strconv.ParseUint(pre[idx+1:], 10, 64)
	if err != nil || counter == 0 {
		return Version{}, fmt.Errorf("parse version %q: pre-release counter must be a positive integer", raw)
	}
	v.PrereleaseLabel = pre[:idx]
	v.PrereleaseCounter = counter
	return v, nil
}

// ParseTag strips prefix from tag and parses the remainder. ok is false for tags that
// are not release tags.
func ParseTag(tag, prefix string) (Version, bool) {
	tag = strings.TrimSpace(tag)
	if !strings.HasPrefix(tag, prefix) {
		return Version{}, false
	}
	v, err := Parse(strings.TrimPrefix(tag, prefix))
	if err != nil {
		return Version{}, false
	}
	return v, true
}
