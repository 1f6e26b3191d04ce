package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies inference errors for breaker and reporting decisions.
type ErrorKind int

const (
	// KindTransient: timeouts, resets, 5xx, rate limits.
	KindTransient ErrorKind = iota
	// KindAuth: invalid key, 401/403.
	KindAuth
	// KindBadRequest: malformed request, unknown model, prompt too long.
	KindBadRequest
	// KindContentFilter: blocked by the backend's content policy.
	KindContentFilter
	// KindQuota: billing or quota exhausted.
	KindQuota
	// KindCancelled: the caller gave up.
	KindCancelled
)

// String returns a human-readable label for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindBadRequest:
		return "bad_request"
	case KindContentFilter:
		return "content_filter"
	case KindQuota:
		return "quota"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// TripsBreaker reports whether the error says the backend itself is
// unusable. Errors caused by one particular prompt do not count.
func (k ErrorKind) TripsBreaker() bool {
	switch k {
	case KindTransient, KindAuth, KindQuota:
		return true
	}
	return false
}

// InferenceError is a classified error from an inference backend.
type InferenceError struct {
	Kind       ErrorKind
	StatusCode int // 0 when the failure happened before a response
	Message    string
	Cause      error
}

func (e *InferenceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *InferenceError) Unwrap() error { return e.Cause }

// statusError builds a classified error from an HTTP response.
func statusError(status int, body string) *InferenceError {
	e := &InferenceError{
		StatusCode: status,
		Message:    fmt.Sprintf("API error %d: %s", status, body),
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindAuth
	case status == http.StatusPaymentRequired:
		e.Kind = KindQuota
	case status == http.StatusTooManyRequests || status >= 500:
		e.Kind = KindTransient
	case status >= 400:
		e.Kind = classifyText(strings.ToLower(body), KindBadRequest)
	default:
		e.Kind = KindTransient
	}
	return e
}

// Classify returns the classification of err. Already classified errors
// are returned as-is; anything else is matched on its text.
func Classify(err error) *InferenceError {
	if err == nil {
		return nil
	}
	var ie *InferenceError
	if errors.As(err, &ie) {
		return ie
	}
	if errors.Is(err, context.Canceled) {
		return &InferenceError{Kind: KindCancelled, Message: "request cancelled", Cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &InferenceError{Kind: KindTransient, Message: "request timed out", Cause: err}
	}
	kind := classifyText(strings.ToLower(err.Error()), KindTransient)
	return &InferenceError{Kind: kind, Message: kind.String(), Cause: err}
}

func classifyText(msg string, fallback ErrorKind) ErrorKind {
	switch {
	case containsAny(msg, "unauthorized", "invalid api key", "authentication", "permission denied"):
		return KindAuth
	case containsAny(msg, "content filter", "content policy", "safety"):
		return KindContentFilter
	case isContextOverflow(msg):
		return KindBadRequest
	case containsAny(msg, "invalid argument", "model not found", "invalid_request", "bad request"):
		return KindBadRequest
	case containsAny(msg, "quota", "insufficient", "billing"):
		return KindQuota
	}
	return fallback
}

// isContextOverflow matches the ways backends report a prompt longer than
// the model window.
func isContextOverflow(msg string) bool {
	return containsAny(msg,
		"context length exceeded",
		"maximum context length",
		"prompt is too long",
		"exceeds model context window",
		"request_too_large",
	)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
