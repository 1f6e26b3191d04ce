package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/domain/service"
	"github.com/ngoclaw/scenegate/internal/infrastructure/config"
)

// NewEngine builds the configured inference engine behind a circuit breaker.
func NewEngine(cfg config.InferenceConfig, logger *zap.Logger) (service.InferenceEngine, *CircuitBreaker, error) {
	var engine service.InferenceEngine
	switch cfg.Provider {
	case "", "echo":
		engine = EchoEngine{}
	case "openai":
		engine = NewCompletionsEngine(CompletionsConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, logger)
		if len(cfg.Fallbacks) > 0 {
			backends := []Backend{{Name: cfg.BaseURL, Engine: engine}}
			for _, fb := range cfg.Fallbacks {
				model := fb.Model
				if model == "" {
					model = cfg.Model
				}
				backends = append(backends, Backend{
					Name: fb.BaseURL,
					Engine: NewCompletionsEngine(CompletionsConfig{
						BaseURL: fb.BaseURL,
						APIKey:  fb.APIKey,
						Model:   model,
						Timeout: cfg.Timeout,
					}, logger),
				})
			}
			engine = NewFailoverEngine(backends, cfg.FailoverCooldown, logger)
		}
	default:
		return nil, nil, fmt.Errorf("unsupported inference provider: %s", cfg.Provider)
	}

	breaker := NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown)
	logger.Info("Inference engine ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("fallbacks", len(cfg.Fallbacks)),
	)
	return WithBreaker(engine, breaker, logger), breaker, nil
}
