package logger

import (
	"regexp"
	"strings"
)

var emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// sensitiveKeys marks field names whose values are masked wholesale.
var sensitiveKeys = []string{"email", "recipient", "prospect", "from_address"}

func redactValue(key, val string) string {
	lower := strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(lower, k) {
			return RedactEmail(val)
		}
	}
	// Mask addresses embedded in free-form values (error strings, bodies).
	return emailRe.ReplaceAllStringFunc(val, RedactEmail)
}

// RedactEmail masks an address for safe logging.
// "jane.doe@acme.io" → "ja***@acme.io"; local parts of ≤2 chars are fully
// masked. Non-addresses become "***@***".
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	local := parts[0]
	if len(local) > 2 {
		return local[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}
