package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/infrastructure/config"
)

func TestRemoteTokenizer_Count(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   int
	}{
		{"vllm count", http.StatusOK, `{"count": 7, "tokens": [1,2,3,4,5,6,7]}`, 7},
		{"llama.cpp tokens", http.StatusOK, `{"tokens": [11, 12, 13]}`, 3},
		{"server error", http.StatusInternalServerError, `boom`, -1},
		{"bad json", http.StatusOK, `not json`, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requests := make(chan tokenizeRequest, 1)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var req tokenizeRequest
				_ = json.NewDecoder(r.Body).Decode(&req)
				requests <- req
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			tok := NewRemoteTokenizer(srv.URL+"/tokenize", "", "m", zap.NewNop())
			if n := tok.Count("hello there"); n != tt.want {
				t.Errorf("Count = %d, want %d", n, tt.want)
			}
			got := <-requests
			if got.Prompt != "hello there" || got.Content != "hello there" || got.Model != "m" {
				t.Errorf("request = %+v", got)
			}
		})
	}
}

func TestRemoteTokenizer_Unreachable(t *testing.T) {
	tok := NewRemoteTokenizer("http://127.0.0.1:1/tokenize", "", "", zap.NewNop())
	if n := tok.Count("x"); n != -1 {
		t.Errorf("Count = %d, want -1", n)
	}
}

func TestNewTokenizer(t *testing.T) {
	if _, ok := NewTokenizer(config.InferenceConfig{Provider: "echo"}, zap.NewNop()).(EchoTokenizer); !ok {
		t.Error("echo provider should count words")
	}
	if tok := NewTokenizer(config.InferenceConfig{Provider: "echo", TokenizerURL: TokenizerOff}, zap.NewNop()); tok != nil {
		t.Errorf("off still returned %T", tok)
	}

	remote, ok := NewTokenizer(config.InferenceConfig{Provider: "openai", BaseURL: "http://host:8000/v1/"}, zap.NewNop()).(*RemoteTokenizer)
	if !ok || remote.url != "http://host:8000/tokenize" {
		t.Errorf("derived tokenizer = %+v", remote)
	}
	remote, ok = NewTokenizer(config.InferenceConfig{Provider: "openai", TokenizerURL: "http://tok/count"}, zap.NewNop()).(*RemoteTokenizer)
	if !ok || remote.url != "http://tok/count" {
		t.Errorf("explicit tokenizer = %+v", remote)
	}
}

func TestEchoTokenizer(t *testing.T) {
	if n := (EchoTokenizer{}).Count("  one two\nthree "); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}
