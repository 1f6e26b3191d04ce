package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/domain/prompt"
	"github.com/ngoclaw/scenegate/internal/domain/service"
	domainErrors "github.com/ngoclaw/scenegate/pkg/errors"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("inference circuit open")

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, reject calls
	CircuitHalfOpen                     // One trial call in flight
)

// String returns a human-readable label for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops calling an engine after consecutive failures.
// After the cooldown one trial call is let through; its outcome closes or
// re-opens the circuit. Cancellations by the caller are not failures.
type CircuitBreaker struct {
	mu        sync.Mutex
	state     CircuitState
	failures  int
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
	probing   bool
	now       func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		state:     CircuitClosed,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.state = CircuitHalfOpen
		cb.probing = true
		return true
	case CircuitHalfOpen:
		// only the first caller after cooldown gets through
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	}
	return false
}

// RecordSuccess closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.probing = false
	cb.state = CircuitClosed
}

// RecordFailure counts a failure and trips the circuit at the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.probing = false
	if cb.state == CircuitHalfOpen || cb.failures >= cb.threshold {
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
	}
}

// RecordAbandoned releases a trial call whose outcome is unknown.
func (cb *CircuitBreaker) RecordAbandoned() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the circuit closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.probing = false
}

// guardedEngine wraps an engine with a circuit breaker.
type guardedEngine struct {
	next    service.InferenceEngine
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// WithBreaker wraps engine so that it fails fast while the backend is down.
func WithBreaker(engine service.InferenceEngine, breaker *CircuitBreaker, logger *zap.Logger) service.InferenceEngine {
	return &guardedEngine{next: engine, breaker: breaker, logger: logger}
}

// Generate implements service.InferenceEngine.
func (g *guardedEngine) Generate(ctx context.Context, promptText string, params prompt.DecodingParams) (string, error) {
	if !g.breaker.Allow() {
		return "", domainErrors.NewServiceUnavailableError("inference backend unavailable", ErrCircuitOpen)
	}

	reply, err := g.next.Generate(ctx, promptText, params)
	switch {
	case err == nil:
		g.breaker.RecordSuccess()
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		g.breaker.RecordAbandoned()
	case !Classify(err).Kind.TripsBreaker():
		// the backend answered; this prompt was the problem
		g.breaker.RecordAbandoned()
	default:
		before := g.breaker.State()
		g.breaker.RecordFailure()
		if after := g.breaker.State(); after != before && after == CircuitOpen {
			g.logger.Warn("Inference circuit opened", zap.Error(err))
		}
	}
	return reply, err
}
