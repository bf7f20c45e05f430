package lead

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Normalize returns a cleaned copy of l:
//   - company whitespace is collapsed and every word capitalized
//   - emails is never nil
//   - a non-empty email is appended to emails when missing
//
// All other fields pass through unchanged.
func Normalize(l Lead) Lead {
	out := l.Clone()

	if out.Company != "" {
		out.Company = NormalizeCompany(out.Company)
	}

	if out.Emails == nil {
		out.Emails = []string{}
	}

	if out.Email != "" && !out.HasEmail(out.Email) {
		out.Emails = append(out.Emails, out.Email)
	}

	return out
}

// NormalizeAll normalizes each lead independently, preserving order
func NormalizeAll(leads []Lead) []Lead {
	out := make([]Lead, len(leads))
	for i, l := range leads {
		out[i] = Normalize(l)
	}
	return out
}

// NormalizeCompany collapses runs of whitespace and capitalizes each word:
// "  acme   CORP " becomes "Acme Corp".
func NormalizeCompany(company string) string {
	words := strings.Fields(company)
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

// capitalize upper-cases the first rune and lower-cases the rest
func capitalize(word string) string {
	r, size := utf8.DecodeRuneInString(word)
	if r == utf8.RuneError && size <= 1 {
		return strings.ToLower(word)
	}
	return string(unicode.ToTitle(r)) + strings.ToLower(word[size:])
}
