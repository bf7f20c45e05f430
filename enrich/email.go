// Package enrich finds and verifies email addresses for leads: it guesses
// common address patterns at the company's domain, verifies them with
// Hunter and caches the answers.
package enrich

import (
	"regexp"
	"strings"
)

var emailFormat = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// IsValidFormat reports whether email looks like an address
func IsValidFormat(email string) bool {
	return email != "" && emailFormat.MatchString(email)
}

// GuessEmails returns the usual corporate address patterns for name at
// domain. Names with fewer than two parts yield nothing.
func GuessEmails(name, domain string) []string {
	domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
	if name == "" || domain == "" {
		return nil
	}

	parts := strings.Fields(name)
	if len(parts) < 2 {
		return nil
	}
	first := strings.ToLower(parts[0])
	last := strings.ToLower(parts[len(parts)-1])
	f0 := string([]rune(first)[:1])
	l0 := string([]rune(last)[:1])

	at := "@" + domain
	return []string{
		first + at,
		last + at,
		first + "." + last + at,
		f0 + last + at,
		first + l0 + at,
		first + "-" + last + at,
		first + "_" + last + at,
		first + last + at,
	}
}
