package monitoring

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/domain/budget"
	"github.com/ngoclaw/scenegate/internal/domain/entity"
	"github.com/ngoclaw/scenegate/internal/domain/service"
)

// Metrics 指标收集器
type Metrics struct {
	// 任务计数
	TasksCreated   uint64
	TasksCompleted uint64
	TasksFailed    uint64
	TasksCancelled uint64

	// 失败原因
	FailedTimeout   uint64
	FailedInference uint64
	FailedAssembly  uint64

	// 取消原因
	CancelledSuperseded uint64

	// 消息
	MessagesAppended uint64
	RepliesCommitted uint64

	// 回复延迟（任务创建到提交，纳秒）
	ReplyLatencySum   uint64
	ReplyLatencyCount uint64

	// 启动时间
	StartTime time.Time
}

// Monitor 性能监控器
type Monitor struct {
	metrics *Metrics
	logger  *zap.Logger

	mu        sync.Mutex
	createdAt map[string]time.Time // 活动任务的创建时间

	estimator func() budget.EstimatorStats
	breaker   func() string
}

// NewMonitor 创建监控器
func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		metrics:   &Metrics{StartTime: time.Now()},
		logger:    logger,
		createdAt: make(map[string]time.Time),
	}
}

// SetEstimatorSource 注册 token 估算器统计来源
func (m *Monitor) SetEstimatorSource(fn func() budget.EstimatorStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.estimator = fn
}

// SetBreakerSource 注册推理熔断器状态来源
func (m *Monitor) SetBreakerSource(fn func() string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breaker = fn
}

func (m *Monitor) IncMessageAppended() { atomic.AddUint64(&m.metrics.MessagesAppended, 1) }

// RecordTransition 记录任务状态变化
func (m *Monitor) RecordTransition(taskID string, to entity.TaskStatus, reason string, at time.Time) {
	switch to {
	case entity.TaskPending:
		atomic.AddUint64(&m.metrics.TasksCreated, 1)
		m.mu.Lock()
		m.createdAt[taskID] = at
		m.mu.Unlock()
		return
	case entity.TaskRunning:
		return
	case entity.TaskCompleted:
		atomic.AddUint64(&m.metrics.TasksCompleted, 1)
		atomic.AddUint64(&m.metrics.RepliesCommitted, 1)
	case entity.TaskFailed:
		atomic.AddUint64(&m.metrics.TasksFailed, 1)
		switch reason {
		case entity.FailureTimeout:
			atomic.AddUint64(&m.metrics.FailedTimeout, 1)
		case entity.FailureAssembly:
			atomic.AddUint64(&m.metrics.FailedAssembly, 1)
		default:
			atomic.AddUint64(&m.metrics.FailedInference, 1)
		}
	case entity.TaskCancelled:
		atomic.AddUint64(&m.metrics.TasksCancelled, 1)
		if reason == service.ReasonSuperseded {
			atomic.AddUint64(&m.metrics.CancelledSuperseded, 1)
		}
	}

	m.mu.Lock()
	created, ok := m.createdAt[taskID]
	delete(m.createdAt, taskID)
	m.mu.Unlock()

	if ok && to == entity.TaskCompleted {
		atomic.AddUint64(&m.metrics.ReplyLatencySum, uint64(at.Sub(created).Nanoseconds()))
		atomic.AddUint64(&m.metrics.ReplyLatencyCount, 1)
	}
}

// ActiveTasks 返回尚未终止的任务数
func (m *Monitor) ActiveTasks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.createdAt)
}

// GetStats 获取当前统计
func (m *Monitor) GetStats() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	avgLatency := float64(0)
	if count := atomic.LoadUint64(&m.metrics.ReplyLatencyCount); count > 0 {
		avgLatency = float64(atomic.LoadUint64(&m.metrics.ReplyLatencySum)) / float64(count) / 1e6
	}

	stats := map[string]interface{}{
		"uptime_seconds":       time.Since(m.metrics.StartTime).Seconds(),
		"tasks_created":        atomic.LoadUint64(&m.metrics.TasksCreated),
		"tasks_completed":      atomic.LoadUint64(&m.metrics.TasksCompleted),
		"tasks_failed":         atomic.LoadUint64(&m.metrics.TasksFailed),
		"tasks_cancelled":      atomic.LoadUint64(&m.metrics.TasksCancelled),
		"tasks_active":         m.ActiveTasks(),
		"messages_appended":    atomic.LoadUint64(&m.metrics.MessagesAppended),
		"avg_reply_latency_ms": avgLatency,
		"memory_mb":            float64(memStats.Alloc) / 1024 / 1024,
		"goroutines":           runtime.NumGoroutine(),
	}

	estimator, breaker := m.sources()
	if estimator != nil {
		es := estimator()
		stats["token_memo_hits"] = es.Hits
		stats["token_memo_misses"] = es.Misses
		stats["token_memo_size"] = es.Size
	}
	if breaker != nil {
		stats["inference_circuit"] = breaker()
	}
	return stats
}

func (m *Monitor) sources() (func() budget.EstimatorStats, func() string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.estimator, m.breaker
}
