// Package budget estimates token counts and trims conversation history to fit
// a token allowance.
package budget

import (
	"math"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

// DefaultMemoCapacity bounds the exact-count memo when no size is configured.
const DefaultMemoCapacity = 1000

// Tokenizer token 计数接口（精确计数器，可选）
// Count 返回负数表示本次无法给出精确计数
type Tokenizer interface {
	Count(text string) int
}

// TokenizerFunc adapts a plain function to Tokenizer.
type TokenizerFunc func(text string) int

// Count implements Tokenizer.
func (f TokenizerFunc) Count(text string) int { return f(text) }

// heuristic tiers: chars-per-token grows with length, so
// HeuristicCount(a+b) <= HeuristicCount(a) + HeuristicCount(b).
var heuristicTiers = []struct {
	maxChars      int
	charsPerToken float64
}{
	{32, 3.0},
	{256, 3.5},
	{math.MaxInt, 4.0},
}

// HeuristicCount 基于字符数估算 token 数，向上取整；空串为 0
func HeuristicCount(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	for _, tier := range heuristicTiers {
		if n <= tier.maxChars {
			return int(math.Ceil(float64(n) / tier.charsPerToken))
		}
	}
	return int(math.Ceil(float64(n) / 4.0))
}

type memoKey struct {
	sum    uint64
	length int
}

func keyOf(text string) memoKey {
	return memoKey{sum: xxhash.Sum64String(text), length: len(text)}
}

// EstimatorStats 估算器统计
type EstimatorStats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Size     int   `json:"size"`
	Capacity int   `json:"capacity"`
}

// Estimator returns memoized exact counts when it has seen a text before and
// falls back to HeuristicCount otherwise. Reads never take a lock.
type Estimator struct {
	tokenizer Tokenizer
	capacity  int

	memo sync.Map // memoKey → int

	mu    sync.Mutex // guards order and size
	order []memoKey  // FIFO ring of inserted keys
	head  int
	size  int

	hits   atomic.Int64
	misses atomic.Int64
}

// NewEstimator creates an estimator. tokenizer may be nil, in which case
// Observe is a no-op and every count is heuristic.
func NewEstimator(tokenizer Tokenizer, capacity int) *Estimator {
	if capacity <= 0 {
		capacity = DefaultMemoCapacity
	}
	return &Estimator{
		tokenizer: tokenizer,
		capacity:  capacity,
		order:     make([]memoKey, capacity),
	}
}

// Count returns the token count for text.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if v, ok := e.memo.Load(keyOf(text)); ok {
		e.hits.Add(1)
		return v.(int)
	}
	e.misses.Add(1)
	return HeuristicCount(text)
}

// Observe computes the exact count of text and memoizes it.
func (e *Estimator) Observe(text string) {
	if e.tokenizer == nil || text == "" {
		return
	}
	key := keyOf(text)
	if _, ok := e.memo.Load(key); ok {
		return
	}
	count := e.tokenizer.Count(text)
	if count < 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, loaded := e.memo.LoadOrStore(key, count); loaded {
		return
	}
	if e.size == e.capacity {
		// ring is full: the slot at head holds the oldest key
		e.memo.Delete(e.order[e.head])
	} else {
		e.size++
	}
	e.order[e.head] = key
	e.head = (e.head + 1) % e.capacity
}

// HasTokenizer reports whether exact counts are available.
func (e *Estimator) HasTokenizer() bool { return e.tokenizer != nil }

// Stats 返回命中统计
func (e *Estimator) Stats() EstimatorStats {
	e.mu.Lock()
	size := e.size
	e.mu.Unlock()
	return EstimatorStats{
		Hits:     e.hits.Load(),
		Misses:   e.misses.Load(),
		Size:     size,
		Capacity: e.capacity,
	}
}
