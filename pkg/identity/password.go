package identity

import (
	"net/mail"
	"strings"
	"unicode"
)

// MinPasswordLength is the shortest password accepted anywhere a credential is set.
const MinPasswordLength = 8

// Password policy rule names, reported back to callers that fail them.
const (
	RuleMinLength   = "min_length"
	RuleNeedsLetter = "needs_letter"
	RuleNeedsDigit  = "needs_digit"
)

// UnmetPasswordRules returns the rules password fails, in a stable order.
// An empty result means the password is acceptable.
func UnmetPasswordRules(password string) []string {
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	var unmet []string
	if len([]rune(password)) < MinPasswordLength {
		unmet = append(unmet, RuleMinLength)
	}
	if !hasLetter {
		unmet = append(unmet, RuleNeedsLetter)
	}
	if !hasDigit {
		unmet = append(unmet, RuleNeedsDigit)
	}
	return unmet
}

// ValidEmail reports whether email is a bare, well-formed address.
func ValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	_, domain, ok := strings.Cut(addr.Address, "@")
	return ok && strings.Contains(domain, ".")
}
