// Package policy checks new passwords against the account password rules.
package policy

import "unicode/utf8"

// MinLength is the minimum password length in characters.
const MinLength = 8

// Unmet criteria, in the order they are reported.
const (
	ReasonLength  = "be at least 8 characters long"
	ReasonLower   = "contain a lowercase letter"
	ReasonUpper   = "contain an uppercase letter"
	ReasonDigit   = "contain a number"
	ReasonSpecial = "contain a special character"
)

// Check returns every unmet criterion; an empty result means the password is acceptable.
// A special character is anything outside [A-Za-z0-9].
func Check(password string) []string {
	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			special = true
		}
	}

	var reasons []string
	if utf8.RuneCountInString(password) < MinLength {
		reasons = append(reasons, ReasonLength)
	}
	if !lower {
		reasons = append(reasons, ReasonLower)
	}
	if !upper {
		reasons = append(reasons, ReasonUpper)
	}
	if !digit {
		reasons = append(reasons, ReasonDigit)
	}
	if !special {
		reasons = append(reasons, ReasonSpecial)
	}
	return reasons
}
