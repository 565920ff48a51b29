package questionnaire

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Fold normalises s for caseless comparison of CRM titles. Titles arrive in
// mixed case and, for country names, with either composed or decomposed
// accents.
func Fold(s string) string {
	return folder.String(norm.NFC.String(strings.TrimSpace(s)))
}

// TitleMatches reports whether two titles are equal under Fold.
func TitleMatches(a, b string) bool {
	return Fold(a) == Fold(b)
}
