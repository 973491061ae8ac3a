// Package sink writes generated window artifacts.
//
// The Markdown sink renders a YAML frontmatter header (run, window, bounds,
// model, enriched links) followed by the generated text and the anonymized
// transcript, and writes it with an atomic rename so a crash never leaves a
// half-written file. Scan reads the frontmatter back so a run's checkpoint can
// be rebuilt from the files alone. Memory is an in-process sink for tests.
package sink
