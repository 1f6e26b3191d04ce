package monitoring

import (
	"fmt"
	"io"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

const metricPrefix = "scenegate_"

// PrometheusHandler serves metrics in the Prometheus text format.
func (m *Monitor) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		m.WritePrometheus(w)
	})
}

type metricLine struct {
	name string
	help string
	typ  string
	val  interface{}
}

// WritePrometheus writes every metric to w.
func (m *Monitor) WritePrometheus(w io.Writer) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	lines := []metricLine{
		{"tasks_created_total", "Generation tasks created", "counter", atomic.LoadUint64(&m.metrics.TasksCreated)},
		{"tasks_completed_total", "Generation tasks that committed a reply", "counter", atomic.LoadUint64(&m.metrics.TasksCompleted)},
		{"tasks_failed_total", "Generation tasks that failed", "counter", atomic.LoadUint64(&m.metrics.TasksFailed)},
		{"tasks_cancelled_total", "Generation tasks cancelled before commit", "counter", atomic.LoadUint64(&m.metrics.TasksCancelled)},
		{"tasks_superseded_total", "Tasks cancelled by a newer user message", "counter", atomic.LoadUint64(&m.metrics.CancelledSuperseded)},
		{"tasks_timeout_total", "Tasks failed by the task deadline", "counter", atomic.LoadUint64(&m.metrics.FailedTimeout)},
		{"tasks_inference_error_total", "Tasks failed by the inference engine", "counter", atomic.LoadUint64(&m.metrics.FailedInference)},
		{"tasks_prompt_assembly_error_total", "Tasks failed while assembling the prompt", "counter", atomic.LoadUint64(&m.metrics.FailedAssembly)},
		{"tasks_active", "Tasks pending or running", "gauge", m.ActiveTasks()},
		{"messages_appended_total", "Messages appended to conversations", "counter", atomic.LoadUint64(&m.metrics.MessagesAppended)},
		{"uptime_seconds", "Process uptime in seconds", "gauge", time.Since(m.metrics.StartTime).Seconds()},
		{"memory_alloc_bytes", "Current memory allocation in bytes", "gauge", memStats.Alloc},
		{"goroutines", "Number of goroutines", "gauge", runtime.NumGoroutine()},
	}

	estimator, breaker := m.sources()
	if estimator != nil {
		es := estimator()
		lines = append(lines,
			metricLine{"token_memo_hits_total", "Token counts served from the memo", "counter", es.Hits},
			metricLine{"token_memo_misses_total", "Token counts estimated heuristically", "counter", es.Misses},
			metricLine{"token_memo_entries", "Entries in the token memo", "gauge", es.Size},
		)
	}
	if breaker != nil {
		open := 0
		if breaker() != "closed" {
			open = 1
		}
		lines = append(lines, metricLine{"inference_circuit_open", "1 while the inference circuit rejects calls", "gauge", open})
	}

	for _, l := range lines {
		name := metricPrefix + l.name
		fmt.Fprintf(w, "# HELP %s %s\n", name, l.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, l.typ)
		switch v := l.val.(type) {
		case uint64:
			fmt.Fprintf(w, "%s %d\n", name, v)
		case int64:
			fmt.Fprintf(w, "%s %d\n", name, v)
		case int:
			fmt.Fprintf(w, "%s %d\n", name, v)
		case float64:
			fmt.Fprintf(w, "%s %f\n", name, v)
		}
		fmt.Fprintln(w)
	}

	if count := atomic.LoadUint64(&m.metrics.ReplyLatencyCount); count > 0 {
		sum := float64(atomic.LoadUint64(&m.metrics.ReplyLatencySum)) / 1e9
		fmt.Fprintf(w, "# HELP %sreply_latency_seconds Time from task creation to committed reply\n", metricPrefix)
		fmt.Fprintf(w, "# TYPE %sreply_latency_seconds summary\n", metricPrefix)
		fmt.Fprintf(w, "%sreply_latency_seconds_sum %f\n", metricPrefix, sum)
		fmt.Fprintf(w, "%sreply_latency_seconds_count %d\n\n", metricPrefix, count)
	}
}
