package mirror

import (
	"path"
	"strings"
)

// DefaultIgnore lists paths that never belong in a session.
var DefaultIgnore = []string{".git", ".codetape", "*.swp", "*~", ".DS_Store"}

// IgnoreList matches slash paths relative to the workspace root against
// glob patterns.
//
// A pattern without a slash matches any single path element, so ".git"
// ignores the directory and everything below it. A pattern with a slash
// matches the whole relative path, or a prefix of it ending at an element
// boundary. A leading "/" is dropped, and so is a trailing one.
type IgnoreList struct {
	patterns []string
}

// NewIgnoreList builds a matcher. Empty patterns and "#" comments are
// skipped.
func NewIgnoreList(patterns ...string) *IgnoreList {
	l := &IgnoreList{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		l.patterns = append(l.patterns, p)
	}
	return l
}

// Patterns returns the normalized patterns.
func (l *IgnoreList) Patterns() []string {
	return append([]string(nil), l.patterns...)
}

// Match reports whether rel is ignored.
func (l *IgnoreList) Match(rel string) bool {
	if l == nil || rel == "" {
		return false
	}
	rel = strings.Trim(rel, "/")
	elems := strings.Split(rel, "/")
	for _, p := range l.patterns {
		if !strings.Contains(p, "/") {
			for _, e := range elems {
				if ok, _ := path.Match(p, e); ok {
					return true
				}
			}
			continue
		}
		// Anchored pattern: try every element prefix of rel.
		for i := range elems {
			prefix := strings.Join(elems[:i+1], "/")
			if ok, _ := path.Match(p, prefix); ok {
				return true
			}
		}
	}
	return false
}
