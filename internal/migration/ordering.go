package migration

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// Ordering defines the total order units are applied in.
type Ordering interface {
	// Check validates a unit name before ordering. It returns an error for names
	// the ordering cannot place.
	Check(name string) error

	// Less reports whether a sorts before b.
	Less(a, b string) bool
}

// LexicalOrder orders names by byte-wise string comparison. Authors encode the
// intended order in the name, typically with a zero-padded or timestamp prefix.
type LexicalOrder struct{}

// Check accepts every name.
func (LexicalOrder) Check(string) error { return nil }

// Less compares names as strings.
func (LexicalOrder) Less(a, b string) bool { return a < b }

// versionPrefix matches names such as "v2.15.0-series-column-unique" or
// "1.2.3_add_index".
var versionPrefix = regexp.MustCompile(`^v?(\d+\.\d+\.\d+)`)

// SemverOrder orders names by a leading semantic version, so v2.10.0 sorts
// after v2.9.0. Names sharing a version are ordered lexically.
type SemverOrder struct{}

// Check rejects names without a leading MAJOR.MINOR.PATCH version.
func (SemverOrder) Check(name string) error {
	if VersionOf(name) == "" {
		return fmt.Errorf("%w: %q does not start with a MAJOR.MINOR.PATCH version", ErrInvalidUnit, name)
	}
	return nil
}

// Less compares the leading versions, falling back to the full names.
func (SemverOrder) Less(a, b string) bool {
	if c := semver.Compare("v"+VersionOf(a), "v"+VersionOf(b)); c != 0 {
		return c < 0
	}
	return a < b
}

// VersionOf extracts the leading MAJOR.MINOR.PATCH of a name without the "v"
// prefix, or returns "" when the name carries none.
func VersionOf(name string) string {
	match := versionPrefix.FindStringSubmatch(strings.TrimSpace(name))
	if match == nil {
		return ""
	}
	if !semver.IsValid("v" + match[1]) {
		return ""
	}
	return match[1]
}

// OrderingByName returns the ordering registered under name ("lexical" or
// "semver").
func OrderingByName(name string) (Ordering, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "lexical":
		return LexicalOrder{}, nil
	case "semver":
		return SemverOrder{}, nil
	}
	return nil, fmt.Errorf("unknown migration ordering %q", name)
}
