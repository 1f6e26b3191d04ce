// Package llm adapts text-completion backends to the orchestrator's
// InferenceEngine.
package llm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/domain/prompt"
	"github.com/ngoclaw/scenegate/internal/domain/service"
)

// ReplyStop ends generation before the model starts writing the user's
// next turn.
var ReplyStop = []string{"\nUser:", "\nOperator:"}

// CompletionsConfig configures a CompletionsEngine.
type CompletionsConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration // time to first response header
}

// CompletionsEngine calls an OpenAI-compatible /completions endpoint
// (vLLM, llama.cpp server, TGI with the OpenAI shim). Sampling extensions
// such as top_k and repetition_penalty are sent as top-level fields, which
// those servers accept.
type CompletionsEngine struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *zap.Logger
}

var _ service.InferenceEngine = (*CompletionsEngine)(nil)

// NewCompletionsEngine creates an engine. There is no client-wide timeout;
// the orchestrator's task deadline arrives through ctx.
func NewCompletionsEngine(cfg CompletionsConfig, logger *zap.Logger) *CompletionsEngine {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8000/v1"
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &CompletionsEngine{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Transport: transport},
		logger:  logger.With(zap.String("engine", "completions")),
	}
}

type completionRequest struct {
	Model             string   `json:"model,omitempty"`
	Prompt            string   `json:"prompt"`
	MaxTokens         int      `json:"max_tokens"`
	Temperature       float64  `json:"temperature"`
	TopP              float64  `json:"top_p"`
	TopK              int      `json:"top_k,omitempty"`
	RepetitionPenalty float64  `json:"repetition_penalty,omitempty"`
	NoRepeatNGramSize int      `json:"no_repeat_ngram_size,omitempty"`
	EarlyStopping     bool     `json:"early_stopping,omitempty"`
	N                 int      `json:"n"`
	BestOf            int      `json:"best_of,omitempty"`
	UseBeamSearch     bool     `json:"use_beam_search,omitempty"`
	Stop              []string `json:"stop,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate implements service.InferenceEngine.
func (e *CompletionsEngine) Generate(ctx context.Context, promptText string, params prompt.DecodingParams) (string, error) {
	body, err := json.Marshal(e.buildRequest(promptText, params))
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", Classify(ctx.Err())
		}
		return "", &InferenceError{Kind: KindTransient, Message: "HTTP request failed", Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp.StatusCode, truncate(string(respBody), 512))
	}

	var parsed completionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", Classify(fmt.Errorf("API error: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("API returned no choices")
	}

	fields := []zap.Field{
		zap.Duration("latency", time.Since(start)),
		zap.String("finish_reason", parsed.Choices[0].FinishReason),
	}
	if parsed.Usage != nil {
		fields = append(fields,
			zap.Int("prompt_tokens", parsed.Usage.PromptTokens),
			zap.Int("completion_tokens", parsed.Usage.CompletionTokens),
		)
	}
	e.logger.Debug("Completion received", fields...)

	return strings.TrimSpace(parsed.Choices[0].Text), nil
}

func (e *CompletionsEngine) buildRequest(promptText string, params prompt.DecodingParams) completionRequest {
	req := completionRequest{
		Model:             e.model,
		Prompt:            promptText,
		MaxTokens:         params.MaxNewTokens,
		Temperature:       params.Temperature,
		TopP:              params.TopP,
		TopK:              params.TopK,
		RepetitionPenalty: params.RepetitionPenalty,
		NoRepeatNGramSize: params.NoRepeatNGram,
		N:                 1,
		Stop:              ReplyStop,
	}
	if params.NumBeams > 1 {
		req.UseBeamSearch = true
		req.BestOf = params.NumBeams
		req.EarlyStopping = params.EarlyStopping
		// beam search is deterministic
		req.Temperature = 0
	}
	return req
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
