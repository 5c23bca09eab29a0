package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

type redaction struct {
	pattern *regexp.Regexp
	mask    string
}

// Card numbers go first so their digit runs are not read as phone numbers.
var redactions = []redaction{
	{regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`), "[CARD]"},
	{regexp.MustCompile(`[\w.%+-]+@[\w-]+(?:\.[\w-]+)*\.[A-Za-z]{2,}`), "[EMAIL]"},
	{regexp.MustCompile(`(?:\+?1[-. ]?)?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`), "[PHONE]"},
}

// Redact masks card numbers, email addresses and phone numbers in free text
// before it leaves the hot store.
func Redact(text string) string {
	if text == "" {
		return text
	}
	for _, r := range redactions {
		text = r.pattern.ReplaceAllString(text, r.mask)
	}
	return text
}

// PhoneHash is a stable pseudonym for a phone number. Formatting is ignored,
// so "+1 (555) 555-0100" and "+15555550100" hash alike.
func PhoneHash(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if len(digits) == 10 {
		digits = "1" + digits
	}
	sum := sha256.Sum256([]byte(digits))
	return hex.EncodeToString(sum[:])
}
