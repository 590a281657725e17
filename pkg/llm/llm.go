// Package llm defines the single-shot prompt/response abstraction consumed
// by IncidentCoordinator for the user-facing narrative (§4.10). Planning is
// deterministic and independent of the LLM (§9 Open Question); a failure
// here degrades the incident rather than failing it.
package llm

import (
	"context"

	"github.com/oncallops/incident-core/pkg/circuitbreaker"
)

// Client is the single-shot LLM abstraction: a rendered context document in,
// free-text analysis out.
type Client interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Guarded wraps a Client with its own CircuitBreaker instance, separate from
// the execution-pipeline breaker: repeated LLM failures must never trip
// command execution, and vice versa (§4.10).
type Guarded struct {
	inner   Client
	breaker *circuitbreaker.Breaker
}

// NewGuarded wraps inner with breaker.
func NewGuarded(inner Client, breaker *circuitbreaker.Breaker) *Guarded {
	return &Guarded{inner: inner, breaker: breaker}
}

// Generate proxies to the wrapped Client through the breaker. When the
// breaker is open, it returns circuitbreaker.ErrOpen without calling inner.
func (g *Guarded) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	var out string
	err := g.breaker.Call(func() error {
		var innerErr error
		out, innerErr = g.inner.Generate(ctx, prompt, maxTokens)
		return innerErr
	})
	return out, err
}
