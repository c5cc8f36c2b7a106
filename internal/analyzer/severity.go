package analyzer

import (
	"fmt"
	"strings"
)

// Severity is the bump a set of changes implies. The zero value is None.
type Severity int

const (
	None Severity = iota
	Patch
	Minor
	Major
)

func (s Severity) String() string {
	switch s {
	case Patch:
		return "patch"
	case Minor:
		return "minor"
	case Major:
		return "major"
	default:
		return "none"
	}
}

// ParseSeverity accepts the lower-case names used in configuration.
func ParseSeverity(raw string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "none", "":
		return None, nil
	case "patch":
		return Patch, nil
	case "minor":
		return Minor, nil
	case "major":
		return Major, nil
	default:
		return None, fmt.Errorf("unknown severity %q (expected none, patch, minor, or major)", raw)
	}
}

// Max returns the highest severity in values, None when empty.
func Max(values ...Severity) Severity {
	out := None
	for _, v := range values {
		if v > out {
			out = v
		}
	}
	return out
}
