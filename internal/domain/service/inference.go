package service

import (
	"context"

	"github.com/ngoclaw/scenegate/internal/domain/prompt"
)

// InferenceEngine generates one reply for an assembled prompt.
// Implementations must honour ctx cancellation where the transport allows;
// the orchestrator enforces its own deadline either way.
type InferenceEngine interface {
	Generate(ctx context.Context, promptText string, params prompt.DecodingParams) (string, error)
}

// InferenceFunc adapts a function to InferenceEngine.
type InferenceFunc func(ctx context.Context, promptText string, params prompt.DecodingParams) (string, error)

// Generate implements InferenceEngine.
func (f InferenceFunc) Generate(ctx context.Context, promptText string, params prompt.DecodingParams) (string, error) {
	return f(ctx, promptText, params)
}
