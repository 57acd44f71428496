// Package keyfilter decides which storage keys are safe to leave the
// local machine.
//
// A safe-key set is an ordered list of patterns. A pattern is either a
// literal key name or contains '*' wildcards, where each '*' matches one
// run of characters that does not contain '.'. Matching is anchored to
// the whole key and case-sensitive:
//
//	workbench.view.extension.*.state
//
// matches "workbench.view.extension.git.state" but not
// "workbench.view.extension.git.sub.state".
//
// The set is compiled once per settings change, not per lookup.
package keyfilter

import (
	"regexp"
	"strings"
)

// Wildcard is the pattern token that matches a single dot-free segment.
const Wildcard = "*"

// Matcher is a compiled safe-key set.
//
// The marker key used for workspace attribution is always considered
// safe by the matcher, even with an empty set; callers that build export
// snapshots must strip it from the output themselves.
type Matcher struct {
	literals map[string]struct{}
	globs    []*regexp.Regexp
	marker   string
}

// Compile builds a Matcher from the given patterns. markerKey is the
// attribution key that is always internally safe; pass "" for none.
//
// Patterns that fail to compile are dropped rather than failing the
// whole set, so one bad entry in a shared key file cannot disable
// filtering for the rest.
func Compile(patterns []string, markerKey string) *Matcher {
	m := &Matcher{
		literals: make(map[string]struct{}, len(patterns)),
		marker:   markerKey,
	}

	for _, pat := range patterns {
		if pat == "" {
			continue
		}
		if !strings.Contains(pat, Wildcard) {
			m.literals[pat] = struct{}{}
			continue
		}
		re, err := compileWildcard(pat)
		if err != nil {
			continue
		}
		m.globs = append(m.globs, re)
	}

	return m
}

// compileWildcard translates a wildcard pattern into an anchored regexp.
// Every non-wildcard run is quoted literally, so patterns containing
// regexp metacharacters keep their literal meaning.
func compileWildcard(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, Wildcard)
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	// Each wildcard stands for one segment: any run without a dot.
	return regexp.Compile("^" + strings.Join(parts, `[^.]*`) + "$")
}

// IsSafe reports whether key may be exported under this set.
func (m *Matcher) IsSafe(key string) bool {
	if m.marker != "" && key == m.marker {
		return true
	}
	if _, ok := m.literals[key]; ok {
		return true
	}
	for _, re := range m.globs {
		if re.MatchString(key) {
			return true
		}
	}
	return false
}

// MarkerKey returns the attribution key this matcher treats as
// internally safe, or "" if none was configured.
func (m *Matcher) MarkerKey() string {
	return m.marker
}

// Len returns the number of compiled patterns, useful for logging how
// much of a configured set survived compilation.
func (m *Matcher) Len() int {
	return len(m.literals) + len(m.globs)
}
