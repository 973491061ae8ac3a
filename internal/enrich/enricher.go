package enrich

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"chronicler/internal/logging"
	"chronicler/internal/services"
	"chronicler/internal/transcript"
)

var (
	urlPattern = regexp.MustCompile(`https?://[^\s<>"'` + "`" + `]+`)
	openers    = map[byte]byte{')': '(', ']': '[', '}': '{'}
)

// ExtractURLs returns the http(s) URLs in text in order of appearance, with
// trailing sentence punctuation removed.
func ExtractURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		m = trimTrailingPunctuation(m)
		if len(m) > len("https://") {
			out = append(out, m)
		}
	}
	return out
}

func trimTrailingPunctuation(s string) string {
	for len(s) > 0 {
		last := s[len(s)-1]
		switch last {
		case '.', ',', ';', ':', '!', '?', '\'', '"':
			s = s[:len(s)-1]
			continue
		case ')', ']', '}':
			if strings.Count(s, string(openers[last])) < strings.Count(s, string(last)) {
				s = s[:len(s)-1]
				continue
			}
		}
		return s
	}
	return s
}

// Request is one URL to describe. Summaries are cached by fingerprint and
// shared between sources, so nothing else from the transcript travels with it.
type Request struct {
	URL         string
	Fingerprint string
}

// Summarizer produces a short description of a URL. It is invoked only on
// cache misses.
type Summarizer func(ctx context.Context, req Request) (string, error)

// Summary is an enrichment result attached to a window's prompt.
type Summary struct {
	URL         string
	Fingerprint string
	Text        string
}

// Enricher resolves URLs found in window messages through the shared cache.
type Enricher struct {
	cache     *Cache
	summarize Summarizer
	maxURLs   int
	logger    *slog.Logger
}

// EnricherOption customizes an Enricher.
type EnricherOption func(*Enricher)

// WithEnricherLogger sets the logger.
func WithEnricherLogger(logger *slog.Logger) EnricherOption {
	return func(e *Enricher) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEnricher wires a cache and summarizer. maxURLs <= 0 disables the limit.
func NewEnricher(cache *Cache, summarize Summarizer, maxURLs int, opts ...EnricherOption) *Enricher {
	e := &Enricher{
		cache:     cache,
		summarize: summarize,
		maxURLs:   maxURLs,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.NewComponentLogger(e.logger, "enricher")
	return e
}

// Enrich resolves the distinct URLs in messages concurrently and returns their
// summaries in order of first appearance. A URL that fails to resolve is
// skipped with a warning. Quota exhaustion, fatal auth errors and
// cancellation are returned so the caller can halt the run.
func (e *Enricher) Enrich(ctx context.Context, messages []transcript.Message) ([]Summary, error) {
	if e == nil || e.cache == nil || e.summarize == nil {
		return nil, nil
	}
	requests, fingerprints := e.collect(messages)
	if len(requests) == 0 {
		return nil, nil
	}

	results := make([]string, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	for i := range requests {
		g.Go(func() error {
			req := requests[i]
			text, err := e.cache.GetOrFetch(gctx, fingerprints[i], func(fetchCtx context.Context) (string, error) {
				return e.summarize(fetchCtx, req)
			})
			if err == nil {
				results[i] = strings.TrimSpace(text)
				return nil
			}
			if halts(err) || ctx.Err() != nil {
				return err
			}
			logging.WarnWithContext(logging.WithContext(ctx, e.logger), "url enrichment skipped", "enrichment_failed",
				logging.String("fingerprint", fingerprints[i]),
				logging.String("reason", services.Classify(err)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "window generated without this link summary"),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(requests))
	for i, req := range requests {
		if results[i] == "" {
			continue
		}
		summaries = append(summaries, Summary{URL: req.URL, Fingerprint: fingerprints[i], Text: results[i]})
	}
	return summaries, nil
}

func (e *Enricher) collect(messages []transcript.Message) ([]Request, []string) {
	seen := make(map[string]struct{})
	var requests []Request
	var fingerprints []string
	for _, msg := range messages {
		for _, raw := range ExtractURLs(msg.Text) {
			if e.maxURLs > 0 && len(requests) >= e.maxURLs {
				return requests, fingerprints
			}
			fp, err := Fingerprint(raw)
			if err != nil {
				continue
			}
			if _, dup := seen[fp]; dup {
				continue
			}
			seen[fp] = struct{}{}
			requests = append(requests, Request{URL: raw, Fingerprint: fp})
			fingerprints = append(fingerprints, fp)
		}
	}
	return requests, fingerprints
}

func halts(err error) bool {
	return errors.Is(err, services.ErrQuotaExhausted) ||
		services.AbortsRun(err) ||
		errors.Is(err, context.Canceled)
}
