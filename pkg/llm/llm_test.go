package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncallops/incident-core/internal/config"
	"github.com/oncallops/incident-core/pkg/circuitbreaker"
	"github.com/oncallops/incident-core/pkg/llm"
)

type fakeClient struct {
	response string
	err      error
	calls    int
}

func (f *fakeClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	f.calls++
	return f.response, f.err
}

func breakerConfig() config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, CooldownSeconds: 1}
}

func TestGuarded_PassesThroughSuccess(t *testing.T) {
	fake := &fakeClient{response: "root cause: memory pressure"}
	g := llm.NewGuarded(fake, circuitbreaker.New("llm", breakerConfig(), nil))

	out, err := g.Generate(context.Background(), "prompt", 100)
	require.NoError(t, err)
	assert.Equal(t, "root cause: memory pressure", out)
	assert.Equal(t, 1, fake.calls)
}

func TestGuarded_OpensAfterRepeatedFailures(t *testing.T) {
	fake := &fakeClient{err: errors.New("llm unavailable")}
	breaker := circuitbreaker.New("llm", breakerConfig(), nil)
	g := llm.NewGuarded(fake, breaker)

	for i := 0; i < 2; i++ {
		_, err := g.Generate(context.Background(), "prompt", 100)
		assert.Error(t, err)
	}

	_, err := g.Generate(context.Background(), "prompt", 100)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 2, fake.calls, "breaker should short-circuit the third call without invoking the client")
}
