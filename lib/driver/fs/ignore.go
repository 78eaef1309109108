package fs

import (
	"path"
	"strings"

	"github.com/ansvik/stash/lib/keys"
)

// ignoreMatcher evaluates glob patterns (with "**" crossing directory
// levels) against relative keys. A malformed pattern is dropped at
// construction; robustness beats strictness for ignore rules.
type ignoreMatcher struct {
	patterns [][]string // pre-split into segments
}

func newIgnoreMatcher(patterns []string) *ignoreMatcher {
	m := &ignoreMatcher{}
	for _, p := range patterns {
		p = strings.Trim(strings.TrimSpace(p), "/")
		if p == "" || !validPattern(p) {
			if p != "" {
				Logger.Warnf("dropping malformed ignore pattern %q", p)
			}
			continue
		}
		m.patterns = append(m.patterns, strings.Split(p, "/"))
	}
	return m
}

// validPattern probes every segment once so Match never sees ErrBadPattern.
func validPattern(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "**" {
			continue
		}
		if _, err := path.Match(seg, "probe"); err != nil {
			return false
		}
	}
	return true
}

// Match reports whether the file key is ignored.
func (m *ignoreMatcher) Match(key string) bool {
	if len(m.patterns) == 0 {
		return false
	}
	segs := strings.Split(key, keys.Sep)
	for _, p := range m.patterns {
		if matchSegments(p, segs) {
			return true
		}
	}
	return false
}

// MatchDir reports whether a whole directory subtree is ignored and can be
// pruned from a traversal. A pattern ending in "/**" prunes at the
// directory matching its prefix.
func (m *ignoreMatcher) MatchDir(dirKey string) bool {
	if len(m.patterns) == 0 {
		return false
	}
	segs := strings.Split(dirKey, keys.Sep)
	for _, p := range m.patterns {
		if len(p) > 1 && p[len(p)-1] == "**" && matchSegments(p[:len(p)-1], segs) {
			return true
		}
		if matchSegments(p, segs) {
			return true
		}
	}
	return false
}

// matchSegments matches pattern segments against path segments, with "**"
// consuming zero or more segments.
func matchSegments(pattern, segs []string) bool {
	if len(pattern) == 0 {
		return len(segs) == 0
	}
	if pattern[0] == "**" {
		// "**" may swallow any prefix of segs
		for i := 0; i <= len(segs); i++ {
			if matchSegments(pattern[1:], segs[i:]) {
				return true
			}
		}
		return false
	}
	if len(segs) == 0 {
		return false
	}
	ok, err := path.Match(pattern[0], segs[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], segs[1:])
}
