package monitoring

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/domain/budget"
	"github.com/ngoclaw/scenegate/internal/domain/entity"
	"github.com/ngoclaw/scenegate/internal/domain/service"
	"github.com/ngoclaw/scenegate/internal/infrastructure/eventbus"
)

func TestMonitor_RecordTransition(t *testing.T) {
	m := NewMonitor(zap.NewNop())
	t0 := time.Now()

	m.RecordTransition("t1", entity.TaskPending, "", t0)
	m.RecordTransition("t1", entity.TaskRunning, "", t0)
	m.RecordTransition("t1", entity.TaskCompleted, "", t0.Add(200*time.Millisecond))

	m.RecordTransition("t2", entity.TaskPending, "", t0)
	m.RecordTransition("t2", entity.TaskCancelled, service.ReasonSuperseded, t0)

	m.RecordTransition("t3", entity.TaskPending, "", t0)
	m.RecordTransition("t3", entity.TaskFailed, entity.FailureTimeout, t0)

	m.RecordTransition("t4", entity.TaskPending, "", t0)

	stats := m.GetStats()
	checks := map[string]uint64{
		"tasks_created":   4,
		"tasks_completed": 1,
		"tasks_cancelled": 1,
		"tasks_failed":    1,
	}
	for key, want := range checks {
		if got := stats[key].(uint64); got != want {
			t.Errorf("%s = %d, want %d", key, got, want)
		}
	}
	if got := stats["tasks_active"].(int); got != 1 {
		t.Errorf("tasks_active = %d, want 1", got)
	}
	if got := stats["avg_reply_latency_ms"].(float64); got < 199 || got > 201 {
		t.Errorf("avg latency = %f ms", got)
	}
}

func TestMonitor_PrometheusOutput(t *testing.T) {
	m := NewMonitor(zap.NewNop())
	m.SetEstimatorSource(func() budget.EstimatorStats { return budget.EstimatorStats{Hits: 7, Misses: 2, Size: 5} })
	m.SetBreakerSource(func() string { return "open" })
	m.RecordTransition("t1", entity.TaskPending, "", time.Now())
	m.RecordTransition("t1", entity.TaskFailed, entity.FailureAssembly, time.Now())

	rec := httptest.NewRecorder()
	m.PrometheusHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		"# TYPE scenegate_tasks_created_total counter",
		"scenegate_tasks_created_total 1",
		"scenegate_tasks_prompt_assembly_error_total 1",
		"scenegate_token_memo_hits_total 7",
		"scenegate_inference_circuit_open 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
}

func TestMonitor_AttachToBus(t *testing.T) {
	bus := eventbus.NewInMemoryBus(zap.NewNop(), 16)
	defer bus.Close()

	m := NewMonitor(zap.NewNop())
	m.Attach(bus)

	ctx := context.Background()
	bus.Publish(ctx, eventbus.NewEvent(eventbus.EventTaskTransition, service.TaskEvent{TaskID: "t1", To: entity.TaskPending, At: time.Now()}))
	bus.Publish(ctx, eventbus.NewEvent(eventbus.EventMessageAppended, eventbus.MessagePayload{MessageID: "m1"}))
	bus.Publish(ctx, eventbus.NewEvent(eventbus.EventTaskTransition, "not a task event"))

	deadline := time.Now().Add(2 * time.Second)
	for {
		stats := m.GetStats()
		if stats["tasks_created"].(uint64) == 1 && stats["messages_appended"].(uint64) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("bus events not recorded: %v", stats)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
