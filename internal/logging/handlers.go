package logging

import (
	"context"
	"log/slog"
)

// teeHandler sends each record to every handler that accepts its level.
type teeHandler struct {
	handlers []slog.Handler
}

// TeeHandler duplicates records across handlers. Nil handlers are ignored.
func TeeHandler(handlers ...slog.Handler) slog.Handler {
	var kept []slog.Handler
	for _, h := range handlers {
		if h != nil {
			kept = append(kept, h)
		}
	}
	switch len(kept) {
	case 0:
		return NoopHandler{}
	case 1:
		return kept[0]
	}
	return &teeHandler{handlers: kept}
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{handlers: mapHandlers(h.handlers, func(inner slog.Handler) slog.Handler {
		return inner.WithAttrs(attrs)
	})}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{handlers: mapHandlers(h.handlers, func(inner slog.Handler) slog.Handler {
		return inner.WithGroup(name)
	})}
}

func mapHandlers(handlers []slog.Handler, fn func(slog.Handler) slog.Handler) []slog.Handler {
	out := make([]slog.Handler, len(handlers))
	for i, h := range handlers {
		out[i] = fn(h)
	}
	return out
}

// Redactor rewrites text before it is logged.
type Redactor func(string) string

// redactHandler passes the message and every string or error attribute
// through a Redactor before the inner handler sees them.
type redactHandler struct {
	inner  slog.Handler
	redact Redactor
}

// WithRedaction returns a logger whose messages and string attributes pass
// through redact. Runs use it with their pseudonym mapping so identifiers
// that slip into error text never reach the console or the log file.
func WithRedaction(logger *slog.Logger, redact Redactor) *slog.Logger {
	if logger == nil || redact == nil {
		return logger
	}
	return slog.New(&redactHandler{inner: logger.Handler(), redact: redact})
}

func (h *redactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactHandler) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, h.redact(record.Message), record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(h.redactAttr(attr))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		redacted[i] = h.redactAttr(attr)
	}
	return &redactHandler{inner: h.inner.WithAttrs(redacted), redact: h.redact}
}

func (h *redactHandler) WithGroup(name string) slog.Handler {
	return &redactHandler{inner: h.inner.WithGroup(name), redact: h.redact}
}

func (h *redactHandler) redactAttr(attr slog.Attr) slog.Attr {
	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, h.redact(value.String()))
	case slog.KindGroup:
		group := value.Group()
		redacted := make([]any, len(group))
		for i, member := range group {
			redacted[i] = h.redactAttr(member)
		}
		return slog.Group(attr.Key, redacted...)
	case slog.KindAny:
		if err, ok := value.Any().(error); ok && err != nil {
			return slog.String(attr.Key, h.redact(err.Error()))
		}
	}
	return slog.Attr{Key: attr.Key, Value: value}
}
