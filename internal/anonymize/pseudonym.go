package anonymize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultLength is the number of hex characters in a pseudonym before any
// collision extension.
const DefaultLength = 4

var (
	phonePattern = regexp.MustCompile(`\+\d(?:[\s().-]{0,2}\d){6,14}|\(\d{3}\)\s?\d{3}[\s.-]?\d{4}\b|\b\d{3}[\s.-]?\d{3}[\s.-]?\d{4}\b|\b\d{11,15}\b`)
	phoneExact   = regexp.MustCompile(`^(?:` + phonePattern.String() + `)$`)
)

// Pseudonym returns the short pseudonym for raw under salt. It is a pure
// function of its inputs.
func Pseudonym(raw, salt string) string {
	return digest(Canonical(raw), salt)[:DefaultLength]
}

func digest(canonical, salt string) string {
	h := sha256.New()
	h.Write([]byte(salt))
	h.Write([]byte{0})
	h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil))
}

// Canonical normalizes an identifier: NFKC, trimmed, and phone numbers
// reduced to digits with an optional leading plus.
func Canonical(raw string) string {
	value := strings.TrimSpace(norm.NFKC.String(raw))
	if IsPhone(value) {
		return phoneDigits(value)
	}
	return value
}

// IsPhone reports whether value as a whole looks like a phone number.
func IsPhone(value string) bool {
	return phoneExact.MatchString(strings.TrimSpace(value))
}

// FindPhones returns every phone-number-shaped token in text.
func FindPhones(text string) []string {
	return phonePattern.FindAllString(norm.NFKC.String(text), -1)
}

// PhoneDigits canonicalizes a phone token to its digits, keeping a leading
// plus when present.
func PhoneDigits(value string) string {
	return phoneDigits(value)
}

func phoneDigits(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for i, r := range value {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
