package pipeline

import (
	"fmt"
	"strings"

	"chronicler/internal/enrich"
	"chronicler/internal/window"
)

const (
	transcriptTimeLayout = "2006-01-02 15:04"
	rangeLayout          = "2006-01-02 15:04 MST"

	enrichmentSystemPrompt = "You describe web pages in one or two neutral sentences. Reply with the description only."
)

// windowPrompt renders the user prompt for one window. Senders are already
// pseudonyms and message bodies are already redacted.
func windowPrompt(w window.Window, links []enrich.Summary) string {
	var b strings.Builder
	loc := w.Start.Location()
	fmt.Fprintf(&b, "Window %d covers %s to %s.\n", w.Index, w.Start.Format(rangeLayout), w.End.In(loc).Format(rangeLayout))
	fmt.Fprintf(&b, "Write a chronicle of the following %d messages.\n\n", len(w.Messages))
	b.WriteString("Conversation:\n")
	for _, msg := range w.Messages {
		text := strings.ReplaceAll(strings.TrimSpace(msg.Text), "\n", " ")
		fmt.Fprintf(&b, "- %s [%s]: %s\n", msg.Timestamp.In(loc).Format(transcriptTimeLayout), msg.Sender, text)
	}
	if len(links) > 0 {
		b.WriteString("\nShared links:\n")
		for _, link := range links {
			fmt.Fprintf(&b, "- %s: %s\n", link.URL, strings.ReplaceAll(link.Text, "\n", " "))
		}
	}
	return b.String()
}

func urlPrompt(req enrich.Request) string {
	return "Describe the page at " + req.URL
}
