// Package trigger decides whether a change event should run the pipeline
// and which ref the code under test is resolved from. Change-triggered
// invocations always test the merge of the proposed change against its
// target; untrusted changes never reach the credentialed tier.
package trigger

import (
	"path"
	"strings"
)

// ChangeEvent describes an inbound code-change notification. Trusted is
// set by the caller for events originating from the repository itself
// (as opposed to forks); only trusted events may unlock the online tier.
type ChangeEvent struct {
	HeadRef  string
	BaseRef  string
	MergeRef string
	Paths    []string
	Trusted  bool
}

// Ref returns the ref to check out for testing: the merge ref when the
// event carries one, so proposed changes are verified as merged against
// their target rather than as pushed.
func (e ChangeEvent) Ref() string {
	if e.MergeRef != "" {
		return e.MergeRef
	}
	return e.HeadRef
}

// PathFilter restricts change-triggered runs to changes touching test or
// source paths.
type PathFilter struct {
	patterns []string
}

// NewPathFilter builds a filter from glob-style patterns. A pattern may
// use "**" to span directories ("src/**/*.go", "tests/**"); other
// wildcards follow path.Match. An empty pattern list matches everything.
func NewPathFilter(patterns []string) *PathFilter {
	return &PathFilter{patterns: patterns}
}

// ShouldRun reports whether the event touches at least one matching
// path. Events with no path information (on-demand runs) always run.
func (f *PathFilter) ShouldRun(event ChangeEvent) bool {
	if len(event.Paths) == 0 {
		return true
	}
	for _, p := range event.Paths {
		if f.Matches(p) {
			return true
		}
	}
	return false
}

// Matches reports whether a single path matches any pattern.
func (f *PathFilter) Matches(p string) bool {
	if len(f.patterns) == 0 {
		return true
	}
	p = path.Clean(strings.TrimPrefix(p, "./"))
	for _, pattern := range f.patterns {
		if matchPattern(pattern, p) {
			return true
		}
	}
	return false
}

// matchPattern handles the "**" extension on top of path.Match by
// matching the fixed prefix and suffix around the doublestar and letting
// it absorb any number of path segments in between.
func matchPattern(pattern, p string) bool {
	pattern = path.Clean(pattern)
	if !strings.Contains(pattern, "**") {
		ok, err := path.Match(pattern, p)
		return err == nil && ok
	}

	parts := strings.SplitN(pattern, "**", 2)
	prefix := strings.TrimSuffix(parts[0], "/")
	suffix := strings.TrimPrefix(parts[1], "/")

	rest := p
	if prefix != "" {
		if !strings.HasPrefix(p, prefix+"/") && p != prefix {
			return false
		}
		rest = strings.TrimPrefix(strings.TrimPrefix(p, prefix), "/")
	}
	if suffix == "" {
		return true
	}
	// The suffix pattern may match the remainder at any segment depth.
	segments := strings.Split(rest, "/")
	for i := range segments {
		candidate := strings.Join(segments[i:], "/")
		if ok, err := path.Match(suffix, candidate); err == nil && ok {
			return true
		}
	}
	return false
}
