package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/domain/prompt"
	"github.com/ngoclaw/scenegate/internal/domain/service"
	"github.com/ngoclaw/scenegate/internal/infrastructure/config"
	domainErrors "github.com/ngoclaw/scenegate/pkg/errors"
)

// === Circuit breaker ===

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CircuitClosed {
		t.Fatal("should still be closed after 2 failures")
	}
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatal("should be open after 3 failures")
	}
	if cb.Allow() {
		t.Fatal("open circuit allowed a call")
	}
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CircuitClosed {
		t.Fatal("success should have reset the failure count")
	}
}

func TestCircuitBreaker_SingleTrialCall(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(1, 10*time.Second)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("allowed during cooldown")
	}

	now = now.Add(11 * time.Second)
	if !cb.Allow() {
		t.Fatal("first call after cooldown should be let through")
	}
	if cb.Allow() {
		t.Fatal("second concurrent trial call allowed")
	}

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("failed trial call should re-open, got %s", cb.State())
	}

	now = now.Add(11 * time.Second)
	_ = cb.Allow()
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Fatalf("successful trial call should close, got %s", cb.State())
	}
}

func TestWithBreaker(t *testing.T) {
	calls := 0
	failing := service.InferenceFunc(func(context.Context, string, prompt.DecodingParams) (string, error) {
		calls++
		return "", errors.New("boom")
	})
	engine := WithBreaker(failing, NewCircuitBreaker(2, time.Minute), zap.NewNop())

	for i := 0; i < 2; i++ {
		_, _ = engine.Generate(context.Background(), "p", prompt.DecodingParams{})
	}
	_, err := engine.Generate(context.Background(), "p", prompt.DecodingParams{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if domainErrors.CodeOf(err) != domainErrors.CodeServiceUnavail {
		t.Errorf("code = %s", domainErrors.CodeOf(err))
	}
	if calls != 2 {
		t.Errorf("backend calls = %d, want 2", calls)
	}
}

func TestWithBreaker_CancellationIsNotFailure(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	blocking := service.InferenceFunc(func(ctx context.Context, _ string, _ prompt.DecodingParams) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	engine := WithBreaker(blocking, cb, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = engine.Generate(ctx, "p", prompt.DecodingParams{})
	if cb.State() != CircuitClosed {
		t.Errorf("cancelled call tripped the breaker")
	}
}

// === Completions engine ===

func TestCompletionsEngine_Generate(t *testing.T) {
	var got completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("auth = %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"text":"  Hi there.\n","finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":3}}`))
	}))
	defer srv.Close()

	engine := NewCompletionsEngine(CompletionsConfig{BaseURL: srv.URL + "/v1/", APIKey: "secret", Model: "m"}, zap.NewNop())
	params := prompt.TierFast.Params()
	reply, err := engine.Generate(context.Background(), "User: hi\nAssistant:", params)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply != "Hi there." {
		t.Errorf("reply = %q", reply)
	}
	if got.Prompt != "User: hi\nAssistant:" || got.MaxTokens != params.MaxNewTokens || got.TopK != params.TopK {
		t.Errorf("request = %+v", got)
	}
	if got.RepetitionPenalty != params.RepetitionPenalty || got.UseBeamSearch {
		t.Errorf("sampling fields = %+v", got)
	}
	if len(got.Stop) == 0 {
		t.Error("stop sequences missing")
	}
}

func TestCompletionsEngine_BeamSearch(t *testing.T) {
	engine := NewCompletionsEngine(CompletionsConfig{}, zap.NewNop())
	req := engine.buildRequest("p", prompt.TierThorough.Params())
	if !req.UseBeamSearch || req.BestOf != 2 || req.Temperature != 0 {
		t.Errorf("beam request = %+v", req)
	}
}

func TestCompletionsEngine_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"http status", http.StatusBadGateway, `upstream gone`, "API error 502"},
		{"error payload", http.StatusOK, `{"error":{"message":"model not loaded"}}`, "model not loaded"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "no choices"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			engine := NewCompletionsEngine(CompletionsConfig{BaseURL: srv.URL}, zap.NewNop())
			_, err := engine.Generate(context.Background(), "p", prompt.DecodingParams{})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestCompletionsEngine_HonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	engine := NewCompletionsEngine(CompletionsConfig{BaseURL: srv.URL}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := engine.Generate(ctx, "p", prompt.DecodingParams{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

// === Echo & factory ===

func TestEchoEngine(t *testing.T) {
	reply, err := EchoEngine{}.Generate(context.Background(), "head\n\nUser: first\nAssistant: ok\nUser: second\nAssistant:", prompt.DecodingParams{})
	if err != nil || reply != "You said: second" {
		t.Errorf("reply = %q, %v", reply, err)
	}
}

func TestNewEngine(t *testing.T) {
	if _, _, err := NewEngine(config.InferenceConfig{Provider: "echo"}, zap.NewNop()); err != nil {
		t.Errorf("echo: %v", err)
	}
	if _, _, err := NewEngine(config.InferenceConfig{Provider: "openai", BaseURL: "http://localhost:1"}, zap.NewNop()); err != nil {
		t.Errorf("openai: %v", err)
	}
	withFallback := config.InferenceConfig{
		Provider:  "openai",
		BaseURL:   "http://localhost:1",
		Fallbacks: []config.InferenceBackend{{BaseURL: "http://localhost:2"}},
	}
	if _, _, err := NewEngine(withFallback, zap.NewNop()); err != nil {
		t.Errorf("openai with fallback: %v", err)
	}
	if _, _, err := NewEngine(config.InferenceConfig{Provider: "gemini"}, zap.NewNop()); err == nil {
		t.Error("unknown provider accepted")
	}
}
