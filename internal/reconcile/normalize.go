// Package reconcile maps external (archive) indicator names onto internal
// (calibration) indicator names using exact, alias and fuzzy matching.
package reconcile

import "strings"

// DefaultInternalPrefix is the two-letter marker the internal catalog puts in
// front of its indicator names ("SqAdx").
const DefaultInternalPrefix = "sq"

// Normalize lower-cases s and keeps only ASCII letters and digits. Two names
// with the same key are treated as the same indicator.
func Normalize(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// internalKey normalizes an internal name after dropping prefix (compared
// case-insensitively) from its front.
func internalKey(name, prefix string) string {
	if prefix != "" && len(name) >= len(prefix) && strings.EqualFold(name[:len(prefix)], prefix) {
		name = name[len(prefix):]
	}
	return Normalize(name)
}
