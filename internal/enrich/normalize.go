package enrich

import (
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
)

// NormalizePhone converts a raw phone string to E.164, assuming US numbers
// when no country code is present. Returns an error for strings that cannot
// form a valid number.
func NormalizePhone(raw string) (string, error) {
	hasPlus := strings.HasPrefix(strings.TrimSpace(raw), "+")

	var digits strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	switch {
	case hasPlus && len(d) >= 11 && len(d) <= 15:
		return "+" + d, nil
	case len(d) == 10:
		return "+1" + d, nil
	case len(d) == 11 && d[0] == '1':
		return "+" + d, nil
	default:
		return "", eris.Errorf("enrich: cannot normalize phone %q", raw)
	}
}

// NormalizeEmail lowercases and trims an email address. Returns an error
// when the value has no plausible mailbox@domain shape.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 || !strings.Contains(email[at+1:], ".") {
		return "", eris.Errorf("enrich: cannot normalize email %q", raw)
	}
	return email, nil
}
