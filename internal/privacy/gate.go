package privacy

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"chronicler/internal/anonymize"
	"chronicler/internal/services"
)

// Violation reports a raw identifier found in an outbound payload. It only
// carries the pseudonym so the identifier never reaches logs.
type Violation struct {
	Pseudonym string
	Field     string
}

func (v *Violation) Error() string {
	field := v.Field
	if field == "" {
		field = "payload"
	}
	return fmt.Sprintf("privacy violation: %s contains raw identifier for %s", field, v.Pseudonym)
}

func (v *Violation) Is(target error) bool { return target == services.ErrPrivacyViolation }

type needle struct {
	folded    string
	digits    string
	pseudonym string
}

// Gate checks payloads against a frozen identity mapping.
type Gate struct {
	needles []needle
	fold    cases.Caser
}

// NewGate indexes every identifier in mapping.
func NewGate(mapping *anonymize.Mapping) *Gate {
	g := &Gate{fold: cases.Fold()}
	for _, entry := range mapping.Entries() {
		n := needle{folded: g.normalize(entry.Raw), pseudonym: entry.Pseudonym}
		if anonymize.IsPhone(entry.Raw) {
			n.digits = strings.TrimPrefix(anonymize.PhoneDigits(entry.Raw), "+")
		}
		if n.folded == "" {
			continue
		}
		g.needles = append(g.needles, n)
	}
	return g
}

func (g *Gate) normalize(s string) string {
	return g.fold.String(norm.NFKC.String(s))
}

// Check returns a *Violation when payload contains a registered identifier.
func (g *Gate) Check(payload string) error {
	return g.check("payload", payload)
}

func (g *Gate) check(field, payload string) error {
	if g == nil {
		return services.Wrap(services.ErrPrivacyViolation, "privacy", "check", "gate not initialized", nil)
	}
	if payload == "" {
		return nil
	}
	folded := g.normalize(payload)
	var (
		phones  []string
		scanned bool
	)
	for _, n := range g.needles {
		if strings.Contains(folded, n.folded) {
			return &Violation{Pseudonym: n.pseudonym, Field: field}
		}
		if n.digits == "" {
			continue
		}
		if !scanned {
			phones = phoneDigitsIn(payload)
			scanned = true
		}
		for _, digits := range phones {
			if strings.Contains(digits, n.digits) {
				return &Violation{Pseudonym: n.pseudonym, Field: field}
			}
		}
	}
	return nil
}

func phoneDigitsIn(payload string) []string {
	tokens := anonymize.FindPhones(payload)
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, strings.TrimPrefix(anonymize.PhoneDigits(tok), "+"))
	}
	return out
}
