package util

import (
	"regexp"
	"strings"
)

var (
	// Matches "Token <value>" and "Bearer <value>" auth schemes. Keep it
	// broad: credentials show up in logs via upstream error strings.
	authTokenRe = regexp.MustCompile(`(?i)\b(Token|Bearer)\s+[^\s"']+`)

	// Common key=value formats that sometimes leak in error strings.
	apiKeyKVRe = regexp.MustCompile(`(?i)\b(api[_-]?key|apikey)\b\s*[:=]\s*[^\s"']+`)
)

// RedactSecrets removes obvious secret-bearing substrings from error/log
// strings.
//
// This is intentionally conservative: it should be safe to call on any
// message, including user-provided inputs and upstream error strings.
func RedactSecrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = authTokenRe.ReplaceAllString(out, "$1 <redacted>")
	out = apiKeyKVRe.ReplaceAllString(out, "<redacted_kv>")
	return strings.TrimSpace(out)
}
