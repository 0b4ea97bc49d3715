package flows

import (
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
)

// normalizeIdentifier rewrites identifiers that look like phone numbers to
// E.164 so the server matches them against stored numbers. Anything else is
// returned trimmed.
func normalizeIdentifier(identifier, region string) string {
	identifier = strings.TrimSpace(identifier)
	if !looksLikePhone(identifier) {
		return identifier
	}
	if e164, ok := toE164(identifier, region); ok {
		return e164
	}
	return identifier
}

func looksLikePhone(s string) bool {
	if s == "" || strings.ContainsAny(s, "@") {
		return false
	}
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return false
		}
	}
	return digits >= 7
}

func toE164(s, region string) (string, bool) {
	num, err := phonenumbers.Parse(s, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", false
	}
	return phonenumbers.Format(num, phonenumbers.E164), true
}
