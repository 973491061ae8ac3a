package textutil

import "strings"

// SanitizeToken converts value into a filesystem-safe token of at most max
// bytes. Letters, digits, '.', '_' and '-' are kept; every run of other
// characters becomes a single '-'. Leading and trailing separators are
// trimmed. Returns "" when nothing usable remains. A max of zero or less
// disables truncation.
func SanitizeToken(value string, max int) string {
	value = strings.TrimSpace(value)
	var b strings.Builder
	pendingDash := false
	for _, r := range value {
		if isTokenRune(r) {
			if pendingDash {
				b.WriteByte('-')
				pendingDash = false
			}
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	out := strings.Trim(b.String(), "-._")
	if max > 0 && len(out) > max {
		out = strings.TrimRight(out[:max], "-._")
	}
	return out
}

func isTokenRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_' || r == '.':
		return true
	default:
		return false
	}
}
