package llm

import (
	"context"
	"strings"

	"github.com/ngoclaw/scenegate/internal/domain/prompt"
)

// EchoEngine replies with the last user line of the prompt. It lets the
// gateway run end to end without a model.
type EchoEngine struct{}

// Generate implements service.InferenceEngine.
func (EchoEngine) Generate(ctx context.Context, promptText string, _ prompt.DecodingParams) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	lines := strings.Split(promptText, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if rest, ok := strings.CutPrefix(lines[i], "User: "); ok {
			return "You said: " + strings.TrimSpace(rest), nil
		}
	}
	return "I'm here.", nil
}
