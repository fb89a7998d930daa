// Package identity derives stable content-addressed bug identifiers.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

const (
	// IDLength is the number of hex characters kept from the digest
	IDLength = 8
	// DescriptionPrefix is how many runes of the description feed the hash
	DescriptionPrefix = 100
)

// AssignID returns the first IDLength hex characters of
// sha256(appPackage + ":" + first DescriptionPrefix runes of lower(description)).
//
// Collisions are not detected. With 32 bits of id space the birthday bound
// becomes noticeable in the tens of thousands of bugs.
func AssignID(appPackage, description string) string {
	sum := sha256.Sum256([]byte(appPackage + ":" + prefix(strings.ToLower(description), DescriptionPrefix)))
	return hex.EncodeToString(sum[:])[:IDLength]
}

func prefix(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// NormalizeAppName trims the name and title-cases it: the first letter of
// every run of letters is upper-cased and the rest lower-cased, so
// "whatsApp web" and "WHATSAPP WEB" both become "Whatsapp Web".
func NormalizeAppName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	prevLetter := false
	for _, r := range strings.TrimSpace(name) {
		if unicode.IsLetter(r) {
			if prevLetter {
				r = unicode.ToLower(r)
			} else {
				r = unicode.ToTitle(r)
			}
			prevLetter = true
		} else {
			prevLetter = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
