package llm

import (
	"github.com/oncallops/incident-core/internal/apperrors"
	"github.com/oncallops/incident-core/internal/config"
	"github.com/oncallops/incident-core/pkg/circuitbreaker"
	"github.com/oncallops/incident-core/pkg/llm/claude"
	"github.com/oncallops/incident-core/pkg/llm/local"
)

// New builds the configured provider's Client, wrapped in its own
// CircuitBreaker (Guarded). apiKey is the resolved credential for the
// claude provider; it is ignored for local.
func New(cfg config.LLMConfig, apiKey string, breaker *circuitbreaker.Breaker) (*Guarded, error) {
	var inner Client
	switch cfg.Provider {
	case "claude", "":
		inner = claude.New(apiKey, cfg.Model, float64(cfg.Temperature))
	case "local":
		c, err := local.New(cfg.Endpoint, cfg.Model)
		if err != nil {
			return nil, err
		}
		inner = c
	default:
		return nil, apperrors.Newf(apperrors.ErrorTypeValidation, "unsupported LLM provider: %s", cfg.Provider)
	}
	return NewGuarded(inner, breaker), nil
}
