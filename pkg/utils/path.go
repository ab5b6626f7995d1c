package utils

import "strings"

// NormalizePath reduces a request target to the canonical deduplication key:
// scheme and host are stripped, query string and fragment are dropped, and a
// leading slash is guaranteed. Case is preserved.
func NormalizePath(raw string) string {
	s := strings.TrimSpace(raw)

	if i := strings.Index(s, "://"); i > 0 && isScheme(s[:i]) {
		s = stripHost(s[i+3:])
	} else if strings.HasPrefix(s, "//") {
		s = stripHost(s[2:])
	}

	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}

	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	return s
}

func stripHost(s string) string {
	i := strings.IndexAny(s, "/?#")
	if i < 0 {
		return "/"
	}
	return s[i:]
}

func isScheme(s string) bool {
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return true
}
