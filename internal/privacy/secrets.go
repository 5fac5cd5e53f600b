// Package privacy redacts credentials from text before it leaves the process.
package privacy

import (
	"regexp"
	"strings"
)

// Marker replaces a redacted value.
const Marker = "[REDACTED]"

// secretPatterns match common credential formats. Assignments keep their key.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)"?\s*[:=]\s*['"]?[a-zA-Z0-9_-]{20,}['"]?`),
	regexp.MustCompile(`(?i)(password|passwd|pwd)"?\s*[:=]\s*['"][^'"]{8,}['"]`),
	regexp.MustCompile(`(?i)(secret[_-]?key|secret[_-]?token|auth[_-]?token|access[_-]?token|refresh[_-]?token)"?\s*[:=]\s*['"]?[a-zA-Z0-9._-]{20,}['"]?`),
	regexp.MustCompile(`(?i)aws[_-]?secret[_-]?access[_-]?key"?\s*[:=]\s*['"]?[a-zA-Z0-9/+=]{40}['"]?`),

	// OAuth access tokens issued by Google.
	regexp.MustCompile(`ya29\.[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`sk-(ant-)?[a-zA-Z0-9-]{20,}`),
	regexp.MustCompile(`gh[pous]_[a-zA-Z0-9]{36,}`),
	regexp.MustCompile(`github_pat_[a-zA-Z0-9_]{22,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`),
}

// ContainsSecrets reports whether text looks like it carries a credential.
func ContainsSecrets(text string) bool {
	if text == "" {
		return false
	}
	for _, p := range secretPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Redact replaces every detected credential with Marker. For key/value
// assignments the key is kept; bare tokens keep a four character prefix.
func Redact(text string) string {
	if text == "" {
		return text
	}
	for _, p := range secretPatterns {
		text = p.ReplaceAllStringFunc(text, redactMatch)
	}
	return text
}

func redactMatch(match string) string {
	if i := strings.IndexAny(match, "=:"); i != -1 {
		return match[:i+1] + Marker
	}
	if len(match) > 8 {
		return match[:4] + "..." + Marker
	}
	return Marker
}
