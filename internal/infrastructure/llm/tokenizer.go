package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/domain/budget"
	"github.com/ngoclaw/scenegate/internal/infrastructure/config"
)

// TokenizerOff disables exact token counting.
const TokenizerOff = "off"

// NewTokenizer returns the exact counter that matches the configured
// engine, or nil when exact counts are disabled.
func NewTokenizer(cfg config.InferenceConfig, logger *zap.Logger) budget.Tokenizer {
	if cfg.TokenizerURL == TokenizerOff {
		return nil
	}
	switch cfg.Provider {
	case "", "echo":
		return EchoTokenizer{}
	case "openai":
		url := cfg.TokenizerURL
		if url == "" {
			url = defaultTokenizeURL(cfg.BaseURL)
		}
		return NewRemoteTokenizer(url, cfg.APIKey, cfg.Model, logger)
	}
	return nil
}

// defaultTokenizeURL maps an OpenAI-style base URL to the server's
// /tokenize route, which vLLM and llama.cpp serve outside /v1.
func defaultTokenizeURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	base = strings.TrimSuffix(base, "/v1")
	return base + "/tokenize"
}

// EchoTokenizer counts whitespace-separated words, which is what
// EchoEngine treats as tokens.
type EchoTokenizer struct{}

// Count implements budget.Tokenizer.
func (EchoTokenizer) Count(text string) int { return len(strings.Fields(text)) }

// RemoteTokenizer asks the model server for exact token counts.
// Count returns -1 when the server cannot answer.
type RemoteTokenizer struct {
	url     string
	apiKey  string
	model   string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger

	warnOnce sync.Once
}

var _ budget.Tokenizer = (*RemoteTokenizer)(nil)

// NewRemoteTokenizer creates a tokenizer client for url.
func NewRemoteTokenizer(url, apiKey, model string, logger *zap.Logger) *RemoteTokenizer {
	return &RemoteTokenizer{
		url:     url,
		apiKey:  apiKey,
		model:   model,
		timeout: 5 * time.Second,
		client:  &http.Client{},
		logger:  logger.With(zap.String("component", "tokenizer")),
	}
}

// tokenizeRequest carries the text under both field names: vLLM reads
// "prompt", llama.cpp reads "content".
type tokenizeRequest struct {
	Model   string `json:"model,omitempty"`
	Prompt  string `json:"prompt"`
	Content string `json:"content"`
}

type tokenizeResponse struct {
	Count  int   `json:"count"`
	Tokens []int `json:"tokens"`
}

// Count implements budget.Tokenizer.
func (t *RemoteTokenizer) Count(text string) int {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	n, err := t.count(ctx, text)
	if err != nil {
		t.warnOnce.Do(func() {
			t.logger.Warn("Exact token counts unavailable, using estimates", zap.String("url", t.url), zap.Error(err))
		})
		return -1
	}
	return n
}

func (t *RemoteTokenizer) count(ctx context.Context, text string) (int, error) {
	body, err := json.Marshal(tokenizeRequest{Model: t.model, Prompt: text, Content: text})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("tokenize status %d: %s", resp.StatusCode, truncate(string(respBody), 256))
	}

	var parsed tokenizeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return 0, fmt.Errorf("decode tokenize response: %w", err)
	}
	if parsed.Count > 0 {
		return parsed.Count, nil
	}
	return len(parsed.Tokens), nil
}
