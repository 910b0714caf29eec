// Package sanitize redacts credential-shaped values from captured logs
// before they are persisted or returned to callers.
package sanitize

import (
	"regexp"
	"strings"
)

// Key-value credential patterns. Each captures the value portion after a
// key token and a run of separator characters (quote, space, colon, equals).
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)password["\s:=]+([^\s"']+)`),
	regexp.MustCompile(`(?i)api[_-]?key["\s:=]+([^\s"']+)`),
	regexp.MustCompile(`(?i)secret["\s:=]+([^\s"']+)`),
	regexp.MustCompile(`(?i)token["\s:=]+([^\s"']+)`),
	regexp.MustCompile(`(?i)jwt[_-]?secret["\s:=]+([^\s"']+)`),
	regexp.MustCompile(`(?i)private[_-]?key["\s:=]+([^\s"']+)`),
	regexp.MustCompile(`(?i)access[_-]?token["\s:=]+([^\s"']+)`),
	regexp.MustCompile(`(?i)authorization["\s:=]+([^\s"']+)`),
}

// Bearer tokens are long base64url runs; shorter runs are left alone.
var bearerPattern = regexp.MustCompile(`Bearer\s+([A-Za-z0-9_-]{20,})`)

// Sanitize redacts secret values from logs. The key and its separator are
// preserved when the match contains an equals sign so that redacted output
// still reads as key=value; otherwise the whole match is replaced. Sanitize
// is idempotent: applying it to its own output is a no-op.
func Sanitize(logs string) string {
	// Bearer tokens go first: the authorization key pattern below matches
	// "Authorization: Bearer" and would consume the scheme word, leaving the
	// token itself in the log.
	sanitized := bearerPattern.ReplaceAllString(logs, "Bearer [REDACTED]")
	for _, pat := range secretPatterns {
		sanitized = pat.ReplaceAllStringFunc(sanitized, func(m string) string {
			// A scheme word is not a secret, and its token is already
			// redacted above.
			if matchValue(m) == "Bearer" {
				return m
			}
			if i := strings.Index(m, "="); i >= 0 {
				return m[:i] + "=[REDACTED]"
			}
			return "[REDACTED]"
		})
	}
	return sanitized
}

// matchValue extracts the value portion of a key-value match. The value
// cannot contain separator characters, so everything after the last one is
// the value.
func matchValue(m string) string {
	if i := strings.LastIndexAny(m, "\"\t\n\r :="); i >= 0 {
		return m[i+1:]
	}
	return m
}
