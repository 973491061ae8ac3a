package testsupport

import (
	"context"
	"fmt"
	"sync"

	"chronicler/internal/privacy"
)

// Step is one scripted provider response.
type Step struct {
	Text string
	Err  error
}

// RespondFunc computes a response for the n-th call (1-based).
type RespondFunc func(ctx context.Context, call int, p privacy.Payload) (string, error)

// ScriptedProvider replays scripted responses in order and records every
// payload it receives. Once the script is exhausted it returns
// "generated <n>".
type ScriptedProvider struct {
	mu       sync.Mutex
	steps    []Step
	respond  RespondFunc
	payloads []privacy.Payload
}

// NewScriptedProvider builds a provider that returns steps in order.
func NewScriptedProvider(steps ...Step) *ScriptedProvider {
	return &ScriptedProvider{steps: steps}
}

// NewFuncProvider builds a provider that delegates every call to fn.
func NewFuncProvider(fn RespondFunc) *ScriptedProvider {
	return &ScriptedProvider{respond: fn}
}

// Generate implements the pipeline provider contract.
func (p *ScriptedProvider) Generate(ctx context.Context, payload privacy.Payload) (string, error) {
	if err := privacy.Require(payload); err != nil {
		return "", err
	}
	p.mu.Lock()
	p.payloads = append(p.payloads, payload)
	call := len(p.payloads)
	var step *Step
	if p.respond == nil && len(p.steps) > 0 {
		s := p.steps[0]
		p.steps = p.steps[1:]
		step = &s
	}
	p.mu.Unlock()

	if p.respond != nil {
		return p.respond(ctx, call, payload)
	}
	if step != nil {
		return step.Text, step.Err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("generated %d", call), nil
}

// Calls returns the number of Generate invocations that passed the seal check.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

// Payloads returns a copy of the recorded payloads.
func (p *ScriptedProvider) Payloads() []privacy.Payload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]privacy.Payload(nil), p.payloads...)
}
