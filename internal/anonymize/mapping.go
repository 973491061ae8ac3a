package anonymize

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Entry pairs a canonical raw identifier with its pseudonym.
type Entry struct {
	Raw       string
	Pseudonym string
}

// Mapping is the frozen identity table for one run.
type Mapping struct {
	forward  map[string]string
	fixed    map[string]bool
	folded   map[string]string
	literals *regexp.Regexp
}

// Lookup returns the pseudonym registered for raw.
func (m *Mapping) Lookup(raw string) (string, bool) {
	if m == nil {
		return "", false
	}
	p, ok := m.forward[Canonical(raw)]
	return p, ok
}

// Len returns the number of registered identifiers.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.forward)
}

// Raw returns every registered canonical identifier, sorted.
func (m *Mapping) Raw() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.forward))
	for raw := range m.forward {
		out = append(out, raw)
	}
	sort.Strings(out)
	return out
}

// Entries returns all identifier/pseudonym pairs sorted by identifier.
func (m *Mapping) Entries() []Entry {
	return m.entries(func(string) bool { return true })
}

// NewEntries returns the pairs that were not supplied as fixed entries when
// the mapping was built; these are the ones a caller needs to persist.
func (m *Mapping) NewEntries() []Entry {
	return m.entries(func(raw string) bool { return !m.fixed[raw] })
}

func (m *Mapping) entries(keep func(string) bool) []Entry {
	if m == nil {
		return nil
	}
	var out []Entry
	for _, raw := range m.Raw() {
		if keep(raw) {
			out = append(out, Entry{Raw: raw, Pseudonym: m.forward[raw]})
		}
	}
	return out
}

// Redact replaces every registered identifier found in text with its
// pseudonym in brackets. Literal identifiers match under Unicode case
// folding, the same normalization the privacy gate applies, and longest
// first; phone numbers match regardless of separators.
func (m *Mapping) Redact(text string) string {
	if m == nil || len(m.forward) == 0 || text == "" {
		return text
	}
	text = norm.NFKC.String(text)
	var found []span
	if m.literals != nil {
		folded, starts, ends := foldIndex(cases.Fold(), text)
		for _, loc := range m.literals.FindAllStringIndex(folded, -1) {
			raw, ok := m.folded[folded[loc[0]:loc[1]]]
			if !ok {
				continue
			}
			found = append(found, span{start: starts[loc[0]], end: ends[loc[1]-1], raw: raw})
		}
	}
	for _, loc := range phonePattern.FindAllStringIndex(text, -1) {
		digits := phoneDigits(text[loc[0]:loc[1]])
		if _, ok := m.forward[digits]; ok {
			found = append(found, span{start: loc[0], end: loc[1], raw: digits})
		}
	}
	if len(found) == 0 {
		return text
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].start != found[j].start {
			return found[i].start < found[j].start
		}
		return found[i].end > found[j].end
	})
	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for _, sp := range found {
		if sp.start < cursor {
			continue
		}
		b.WriteString(text[cursor:sp.start])
		b.WriteString("[" + m.forward[sp.raw] + "]")
		cursor = sp.end
	}
	b.WriteString(text[cursor:])
	return b.String()
}

type span struct {
	start, end int
	raw        string
}

// foldIndex case-folds text rune by rune. starts[i] and ends[i] give the
// byte range in text of the rune that produced byte i of the folded string.
func foldIndex(fold cases.Caser, text string) (string, []int, []int) {
	var b strings.Builder
	b.Grow(len(text))
	starts := make([]int, 0, len(text))
	ends := make([]int, 0, len(text))
	for i := 0; i < len(text); {
		_, size := utf8.DecodeRuneInString(text[i:])
		piece := fold.String(text[i : i+size])
		b.WriteString(piece)
		for range len(piece) {
			starts = append(starts, i)
			ends = append(ends, i+size)
		}
		i += size
	}
	return b.String(), starts, ends
}

// buildLiterals compiles the case-folded identifiers into one alternation,
// longest first so overlapping identifiers resolve to the longer one.
func buildLiterals(folded []string) *regexp.Regexp {
	literals := make([]string, 0, len(folded))
	for _, lit := range folded {
		if lit != "" {
			literals = append(literals, lit)
		}
	}
	if len(literals) == 0 {
		return nil
	}
	sort.SliceStable(literals, func(i, j int) bool {
		if len(literals[i]) != len(literals[j]) {
			return len(literals[i]) > len(literals[j])
		}
		return literals[i] < literals[j]
	})
	parts := make([]string, 0, len(literals))
	for _, lit := range literals {
		parts = append(parts, regexp.QuoteMeta(lit))
	}
	return regexp.MustCompile(strings.Join(parts, "|"))
}
