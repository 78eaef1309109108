// Package keys implements the key model shared by every driver and the
// storage engine: colon-separated segments, base keys with a trailing
// colon, and the filters used for enumeration.
package keys

import (
	"strings"
)

// Sep is the segment separator of normalized keys.
const Sep = ":"

// MetaSuffix marks reserved metadata keys. Keys ending in it are excluded
// from enumeration.
const MetaSuffix = "$"

// --------------------------------------------------------------------------
// Normalization
// --------------------------------------------------------------------------

// Normalize canonicalizes a key: any query portion is stripped, slashes and
// backslashes are coerced to colons, runs of colons are collapsed and
// leading/trailing colons removed. Normalize is idempotent.
func Normalize(key string) string {
	if key == "" {
		return ""
	}
	if i := strings.IndexByte(key, '?'); i >= 0 {
		key = key[:i]
	}

	var sb strings.Builder
	sb.Grow(len(key))
	prevSep := true // swallows leading separators
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c == '/' || c == '\\' || c == ':' {
			if !prevSep {
				sb.WriteByte(':')
				prevSep = true
			}
			continue
		}
		sb.WriteByte(c)
		prevSep = false
	}

	return strings.TrimSuffix(sb.String(), Sep)
}

// NormalizeBase canonicalizes a base key. A non-empty base always carries a
// trailing colon; the empty base denotes the root.
func NormalizeBase(base string) string {
	base = Normalize(base)
	if base == "" {
		return ""
	}
	return base + Sep
}

// Join concatenates key parts and normalizes the result.
func Join(parts ...string) string {
	return Normalize(strings.Join(parts, Sep))
}

// Depth returns the number of separators in a normalized key. The root-level
// key "a" has depth 0, "a:b" has depth 1.
func Depth(key string) int {
	return strings.Count(key, Sep)
}

// --------------------------------------------------------------------------
// Filters
// --------------------------------------------------------------------------

// HasBase reports whether key lies under the subtree rooted at base.
func HasBase(key, base string) bool {
	return base == "" || strings.HasPrefix(key, base)
}

// FilterByBase reports whether key belongs to the subtree rooted at base.
// Reserved metadata keys never match.
func FilterByBase(key, base string) bool {
	if strings.HasSuffix(key, MetaSuffix) {
		return false
	}
	return HasBase(key, base)
}

// FilterByDepth reports whether key is within maxDepth levels. A negative
// maxDepth disables the filter.
func FilterByDepth(key string, maxDepth int) bool {
	if maxDepth < 0 {
		return true
	}
	return Depth(key) <= maxDepth
}

// --------------------------------------------------------------------------
// Traversal guard
// --------------------------------------------------------------------------

// ValidSegments reports whether a normalized key is free of parent-directory
// traversal sequences. A key is rejected when it contains "..:" or ends in
// "..", which covers every whole ".." segment (and also a segment that
// merely ends in "..", e.g. "a..:b"); dots elsewhere inside a segment
// (e.g. "te..st.js") are fine.
func ValidSegments(key string) bool {
	if strings.Contains(key, ".."+Sep) {
		return false
	}
	return !strings.HasSuffix(key, "..")
}
