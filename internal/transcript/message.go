package transcript

import (
	"context"
	"errors"
	"io"
	"time"
)

// Message is one chat record. Sender holds the raw identifier until the
// anonymizer replaces it with a pseudonym.
type Message struct {
	Timestamp time.Time
	Sender    string
	Text      string
}

// Source yields messages one at a time and returns io.EOF when exhausted.
type Source interface {
	Next(ctx context.Context) (Message, error)
}

// SliceSource serves messages from memory.
type SliceSource struct {
	messages []Message
	pos      int
}

// NewSliceSource returns a source over a copy of messages.
func NewSliceSource(messages []Message) *SliceSource {
	cp := make([]Message, len(messages))
	copy(cp, messages)
	return &SliceSource{messages: cp}
}

func (s *SliceSource) Next(ctx context.Context) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if s.pos >= len(s.messages) {
		return Message{}, io.EOF
	}
	msg := s.messages[s.pos]
	s.pos++
	return msg, nil
}

// Drain reads every remaining message from src.
func Drain(ctx context.Context, src Source) ([]Message, error) {
	if src == nil {
		return nil, errors.New("transcript: nil source")
	}
	var out []Message
	for {
		msg, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, msg)
	}
}

type rangeSource struct {
	src      Source
	from, to time.Time
}

// InRange filters src to messages with from <= Timestamp < to. A zero bound
// leaves that side open.
func InRange(src Source, from, to time.Time) Source {
	if from.IsZero() && to.IsZero() {
		return src
	}
	return &rangeSource{src: src, from: from, to: to}
}

func (r *rangeSource) Next(ctx context.Context) (Message, error) {
	for {
		msg, err := r.src.Next(ctx)
		if err != nil {
			return msg, err
		}
		if !r.from.IsZero() && msg.Timestamp.Before(r.from) {
			continue
		}
		if !r.to.IsZero() && !msg.Timestamp.Before(r.to) {
			continue
		}
		return msg, nil
	}
}
