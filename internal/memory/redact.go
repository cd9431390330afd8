package memory

import (
	"regexp"
)

var redactions = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)\b(bearer)\s+([A-Za-z0-9_\-\.=]{12,})`), "$1 [REDACTED]"},
	{regexp.MustCompile(`(?i)\b(api[_-]?key|token|secret|password)(["']?\s*[:=]\s*["']?)([^\s"',}]{6,})`), "$1$2[REDACTED]"},
	{regexp.MustCompile(`\bsk-(?:or-v1-|ant-|proj-)?[A-Za-z0-9_\-]{12,}`), "[REDACTED]"},
	{regexp.MustCompile(`\bAIza[A-Za-z0-9_\-]{16,}\b`), "[REDACTED]"},
}

// RedactText masks credentials that users paste into chat messages before
// queries or retrieved memories reach the log.
func RedactText(s string) string {
	if s == "" {
		return s
	}
	for _, r := range redactions {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}
