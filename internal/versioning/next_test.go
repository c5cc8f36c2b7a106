package versioning

import (
	"errors"
	"testing"
	"time"

	"github.com/example/semrel/internal/analyzer"
	"github.com/example/semrel/internal/channel"
	"github.com/example/semrel/internal/errdefs"
	"github.com/example/semrel/internal/history"
)

var (
	stable = channel.Channel{Name: "main"}
	beta   = channel.Channel{Name: "beta", Prerelease: true, PrereleaseIdentifier: "beta"}
)

func mustParse(t *testing.T, raw string) *Version {
	t.Helper()
	v, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse(%q): %v", raw, err)
	}
	return &v
}

func TestNextStable(t *testing.T) {
	cases := []struct {
		name string
		last string
		sev  analyzer.Severity
		want string
	}{
		{name: "scenario A minor", last: "1.2.0", sev: analyzer.Minor, want: "1.3.0"},
		{name: "patch", last: "1.2.3", sev: analyzer.Patch, want: "1.2.4"},
		{name: "minor resets patch", last: "1.2.3", sev: analyzer.Minor, want: "1.3.0"},
		{name: "major resets", last: "1.2.3", sev: analyzer.Major, want: "2.0.0"},
		{name: "first release", sev: analyzer.Patch, want: "1.0.0"},
		{name: "first release major", sev: analyzer.Major, want: "1.0.0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := Input{Severity: tc.sev, Channel: stable}
			if tc.last != "" {
				in.LastStable = mustParse(t, tc.last)
			}
			got, err := Next(in)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if got.String() != tc.want {
				t.Fatalf("next=%s, want %s", got, tc.want)
			}
		})
	}
}

func TestNextNoReleaseNeeded(t *testing.T) {
	_, err := Next(Input{LastStable: mustParse(t, "1.2.0"), Severity: analyzer.None, Channel: stable})
	if !errors.Is(err, errdefs.ErrNoReleaseNeeded) {
		t.Fatalf("expected ErrNoReleaseNeeded, got %v", err)
	}
	_, err = Next(Input{Severity: analyzer.None, Channel: stable})
	if !errors.Is(err, errdefs.ErrNoReleaseNeeded) {
		t.Fatalf("first release with no changes must still block, got %v", err)
	}
}

func TestNextForcedIsPatch(t *testing.T) {
	got, err := Next(Input{LastStable: mustParse(t, "1.2.0"), Severity: analyzer.None, Channel: stable, Force: true})
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.String() != "1.2.1" {
		t.Fatalf("next=%s, want 1.2.1", got)
	}
}

func TestNextPrereleaseCounterLaw(t *testing.T) {
	id := channel.Channel{Name: "dynamic-issuer", Prerelease: true}
	cases := []struct {
		name       string
		lastStable string
		lastPre    string
		sev        analyzer.Severity
		want       string
	}{
		{name: "base change resets counter", lastStable: "2.0.0", lastPre: "2.0.0-dynamic-issuer.3", sev: analyzer.Major, want: "3.0.0-dynamic-issuer.1"},
		{name: "same base increments", lastStable: "1.4.2", lastPre: "2.0.0-dynamic-issuer.3", sev: analyzer.Major, want: "2.0.0-dynamic-issuer.4"},
		{name: "lower base stays on lineage", lastStable: "1.4.2", lastPre: "2.0.0-dynamic-issuer.3", sev: analyzer.Patch, want: "2.0.0-dynamic-issuer.4"},
		{name: "first pre-release", sev: analyzer.Minor, want: "1.0.0-dynamic-issuer.1"},
		{name: "first pre-release after stable", lastStable: "1.2.0", sev: analyzer.Minor, want: "1.3.0-dynamic-issuer.1"},
		{name: "stale pre-release below stable", lastStable: "2.1.0", lastPre: "2.1.0-dynamic-issuer.9", sev: analyzer.Patch, want: "2.1.1-dynamic-issuer.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := Input{Severity: tc.sev, Channel: id}
			if tc.lastStable != "" {
				in.LastStable = mustParse(t, tc.lastStable)
			}
			if tc.lastPre != "" {
				in.LastPrerelease = mustParse(t, tc.lastPre)
			}
			got, err := Next(in)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if got.String() != tc.want {
				t.Fatalf("next=%s, want %s", got, tc.want)
			}
		})
	}
}

func TestNextRejectsForeignPrerelease(t *testing.T) {
	_, err := Next(Input{LastPrerelease: mustParse(t, "2.0.0-alpha.1"), Severity: analyzer.Patch, Channel: beta})
	var verr *errdefs.VersionError
	if !errors.As(err, &verr) || verr.Reason != errdefs.ReasonInvalid {
		t.Fatalf("expected invalid version error, got %v", err)
	}
}

func TestEnsureIncreasing(t *testing.T) {
	next := *mustParse(t, "1.3.0")
	if err := EnsureIncreasing(next, mustParse(t, "1.2.9"), nil, mustParse(t, "1.3.0-beta.4")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := EnsureIncreasing(next, mustParse(t, "1.3.0"))
	var verr *errdefs.VersionError
	if !errors.As(err, &verr) || verr.Reason != errdefs.ReasonNotMonotonic {
		t.Fatalf("expected not-monotonic, got %v", err)
	}
}

func TestMonotonicSequence(t *testing.T) {
	severities := []analyzer.Severity{analyzer.Patch, analyzer.Minor, analyzer.Patch, analyzer.Major, analyzer.Patch, analyzer.Minor}
	for _, ch := range []channel.Channel{stable, beta} {
		var lastStable, lastPre *Version
		var prev *Version
		for i, sev := range severities {
			next, err := Next(Input{LastStable: lastStable, LastPrerelease: lastPre, Severity: sev, Channel: ch})
			if err != nil {
				t.Fatalf("%s step %d: %v", ch.Name, i, err)
			}
			if prev != nil && next.Compare(*prev) <= 0 {
				t.Fatalf("%s step %d: %s not greater than %s", ch.Name, i, next, prev)
			}
			v := next
			prev = &v
			if ch.Prerelease {
				lastPre = &v
			} else {
				lastStable = &v
			}
		}
	}
}

func TestParse(t *testing.T) {
	v, err := Parse("2.0.0-dynamic-issuer.12")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if v.PrereleaseLabel != "dynamic-issuer" || v.PrereleaseCounter != 12 || v.Major != 2 {
		t.Fatalf("parsed %+v", v)
	}
	for _, bad := range []string{"v1.0.0", "1.0", "1.0.0-beta", "1.0.0-beta.x", "1.0.0-beta.0"} {
		if _, err := Parse(bad); err == nil {
			t.Fatalf("Parse(%q) should fail", bad)
		}
	}
	if mustParse(t, "1.0.0-beta.10").Compare(*mustParse(t, "1.0.0-beta.9")) <= 0 {
		t.Fatalf("counters must compare numerically")
	}
	if mustParse(t, "1.0.0-beta.1").Compare(*mustParse(t, "1.0.0")) >= 0 {
		t.Fatalf("pre-release must sort before its stable version")
	}
}

func TestFindLineage(t *testing.T) {
	now := time.Now()
	tags := []history.Tag{
		{Name: "v1.0.0", Commit: "a", Date: now},
		{Name: "v1.1.0", Commit: "b", Date: now},
		{Name: "v2.0.0-beta.1", Commit: "c", Date: now},
		{Name: "v2.0.0-beta.2", Commit: "d", Date: now},
		{Name: "v2.0.0-alpha.5", Commit: "e", Date: now},
		{Name: "random", Commit: "f", Date: now},
	}
	l := FindLineage(tags, "v", beta)
	if l.Stable == nil || l.Stable.Tag.Name != "v1.1.0" {
		t.Fatalf("stable=%+v", l.Stable)
	}
	if l.Prerelease == nil || l.Prerelease.Tag.Name != "v2.0.0-beta.2" {
		t.Fatalf("prerelease=%+v", l.Prerelease)
	}
	if m := l.Marker(beta); m.Tag.Commit != "d" {
		t.Fatalf("pre-release marker=%+v", m)
	}
	if m := l.Marker(stable); m.Tag.Commit != "b" {
		t.Fatalf("stable marker=%+v", m)
	}
	if got := FindLineage(tags, "v", stable); got.Prerelease != nil {
		t.Fatalf("stable channel must ignore pre-release tags")
	}
}
