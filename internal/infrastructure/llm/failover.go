package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/domain/prompt"
	"github.com/ngoclaw/scenegate/internal/domain/service"
)

// Backend is one named engine in a failover chain.
type Backend struct {
	Name   string
	Engine service.InferenceEngine
}

// FailoverEngine tries backends in order. A backend that fails with an
// error that says the backend is unusable is put on cooldown and the next
// one is tried; errors caused by the prompt are returned immediately.
type FailoverEngine struct {
	backends []Backend
	cooldown time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	coolUntil map[string]time.Time
}

var _ service.InferenceEngine = (*FailoverEngine)(nil)

// NewFailoverEngine creates a failover chain. The first backend is the
// primary.
func NewFailoverEngine(backends []Backend, cooldown time.Duration, logger *zap.Logger) *FailoverEngine {
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &FailoverEngine{
		backends:  backends,
		cooldown:  cooldown,
		logger:    logger.With(zap.String("component", "failover")),
		now:       time.Now,
		coolUntil: make(map[string]time.Time),
	}
}

// Generate implements service.InferenceEngine.
func (f *FailoverEngine) Generate(ctx context.Context, promptText string, params prompt.DecodingParams) (string, error) {
	candidates := f.candidates()
	var lastErr error
	for i, b := range candidates {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		reply, err := b.Engine.Generate(ctx, promptText, params)
		if err == nil {
			if i > 0 {
				f.logger.Info("Failover succeeded", zap.String("backend", b.Name), zap.Int("attempt", i+1))
			}
			f.clear(b.Name)
			return reply, nil
		}

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		classified := Classify(err)
		if !classified.Kind.TripsBreaker() {
			return "", err
		}
		f.markCooling(b.Name)
		f.logger.Warn("Backend failed, trying next",
			zap.String("backend", b.Name),
			zap.String("kind", classified.Kind.String()),
			zap.Error(err),
		)
	}
	if lastErr == nil {
		return "", &InferenceError{Kind: KindTransient, Message: "no inference backends configured"}
	}
	return "", fmt.Errorf("all %d backends failed: %w", len(candidates), lastErr)
}

// Cooling returns the names of backends currently on cooldown.
func (f *FailoverEngine) Cooling() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	var names []string
	for _, b := range f.backends {
		if until, ok := f.coolUntil[b.Name]; ok && now.Before(until) {
			names = append(names, b.Name)
		}
	}
	return names
}

// candidates returns the ready backends in order followed by the cooling
// ones, so a fully cooled chain still gets one attempt per backend.
func (f *FailoverEngine) candidates() []Backend {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	ready := make([]Backend, 0, len(f.backends))
	var cooling []Backend
	for _, b := range f.backends {
		if until, ok := f.coolUntil[b.Name]; ok && now.Before(until) {
			cooling = append(cooling, b)
			continue
		}
		ready = append(ready, b)
	}
	return append(ready, cooling...)
}

func (f *FailoverEngine) markCooling(name string) {
	f.mu.Lock()
	f.coolUntil[name] = f.now().Add(f.cooldown)
	f.mu.Unlock()
}

func (f *FailoverEngine) clear(name string) {
	f.mu.Lock()
	delete(f.coolUntil, name)
	f.mu.Unlock()
}
