package idcheck

import "regexp"

var passportPattern = regexp.MustCompile(`^[a-zA-Z0-9]{6,15}$`)

// ValidPassport reports whether s looks like a passport number: 6 to 15
// ASCII letters and digits.
func ValidPassport(s string) bool {
	return passportPattern.MatchString(s)
}
