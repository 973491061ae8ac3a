package anonymize

import (
	"crypto/sha256"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"chronicler/internal/transcript"
)

// Builder accumulates identifiers and resolves them into a Mapping.
type Builder struct {
	salt  string
	fixed map[string]string
	seen  map[string]struct{}
}

// NewBuilder starts a mapping for salt. fixed holds pseudonyms already
// assigned in an earlier session of the same run; they are kept verbatim.
func NewBuilder(salt string, fixed map[string]string) *Builder {
	b := &Builder{
		salt:  salt,
		fixed: make(map[string]string, len(fixed)),
		seen:  make(map[string]struct{}),
	}
	for raw, p := range fixed {
		if c := Canonical(raw); c != "" && p != "" {
			b.fixed[c] = p
		}
	}
	return b
}

// Add registers identifiers. Blank values are ignored.
func (b *Builder) Add(raws ...string) {
	for _, raw := range raws {
		c := Canonical(raw)
		if c == "" {
			continue
		}
		b.seen[c] = struct{}{}
	}
}

// Build assigns pseudonyms. New identifiers are processed in sorted order;
// any that share a truncated digest with another identifier, fixed or new,
// grow by one hex character until unique.
func (b *Builder) Build() *Mapping {
	forward := make(map[string]string, len(b.fixed)+len(b.seen))
	used := make(map[string]bool, len(forward))
	fixed := make(map[string]bool, len(b.fixed))
	for raw, p := range b.fixed {
		forward[raw] = p
		used[p] = true
		fixed[raw] = true
	}

	pending := make([]string, 0, len(b.seen))
	for raw := range b.seen {
		if _, ok := forward[raw]; !ok {
			pending = append(pending, raw)
		}
	}
	sort.Strings(pending)

	digests := make(map[string]string, len(pending))
	for _, raw := range pending {
		digests[raw] = digest(raw, b.salt)
	}

	for length := DefaultLength; len(pending) > 0 && length <= sha256.Size*2; length++ {
		counts := make(map[string]int, len(pending))
		for _, raw := range pending {
			counts[digests[raw][:length]]++
		}
		var next []string
		for _, raw := range pending {
			p := digests[raw][:length]
			if counts[p] > 1 || used[p] {
				next = append(next, raw)
				continue
			}
			forward[raw] = p
			used[p] = true
		}
		pending = next
	}

	m := &Mapping{
		forward: forward,
		fixed:   fixed,
		folded:  make(map[string]string, len(forward)),
	}
	fold := cases.Fold()
	ids := make([]string, 0, len(forward))
	for raw := range forward {
		ids = append(ids, raw)
	}
	sort.Strings(ids)
	keys := make([]string, 0, len(ids))
	for _, raw := range ids {
		key := fold.String(raw)
		if _, exists := m.folded[key]; !exists {
			m.folded[key] = raw
			keys = append(keys, key)
		}
	}
	m.literals = buildLiterals(keys)
	return m
}

// CollectIdentifiers gathers sender IDs, phone numbers mentioned in message
// bodies, and the configured extras.
func CollectIdentifiers(messages []transcript.Message, extra []string) []string {
	set := make(map[string]struct{})
	add := func(v string) {
		if c := Canonical(v); c != "" {
			set[c] = struct{}{}
		}
	}
	for _, msg := range messages {
		add(msg.Sender)
		for _, phone := range FindPhones(msg.Text) {
			add(phone)
		}
	}
	for _, v := range extra {
		add(v)
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// AnonymizeMessages returns copies of messages with senders replaced by their
// pseudonyms and bodies redacted.
func AnonymizeMessages(messages []transcript.Message, m *Mapping) []transcript.Message {
	out := make([]transcript.Message, len(messages))
	for i, msg := range messages {
		sender := strings.TrimSpace(msg.Sender)
		if p, ok := m.Lookup(sender); ok {
			sender = p
		}
		out[i] = transcript.Message{
			Timestamp: msg.Timestamp,
			Sender:    sender,
			Text:      m.Redact(msg.Text),
		}
	}
	return out
}
