package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/domain/budget"
	"github.com/ngoclaw/scenegate/internal/domain/entity"
	"github.com/ngoclaw/scenegate/internal/domain/prompt"
	"github.com/ngoclaw/scenegate/internal/infrastructure/persistence"
)

type harness struct {
	orch  *ReplyOrchestrator
	store *persistence.MemoryStore
	conv  *entity.Conversation

	mu     sync.Mutex
	events []TaskEvent
}

func newHarness(t *testing.T, engine InferenceEngine, cfg OrchestratorConfig, withProfile bool) *harness {
	t.Helper()
	ctx := context.Background()
	store := persistence.NewMemoryStore()

	if withProfile {
		p, _ := entity.NewSystemPromptProfile("p1", "default", "You are a warm partner.", "Stay in character.")
		if err := store.Profiles().Save(ctx, p); err != nil {
			t.Fatalf("save profile: %v", err)
		}
		if _, err := store.Profiles().Activate(ctx, "p1"); err != nil {
			t.Fatalf("activate profile: %v", err)
		}
	}

	conv, _, err := store.Conversations().FindOrCreateByUser(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	var seq atomic.Int64
	h := &harness{store: store, conv: conv}
	h.orch = NewReplyOrchestrator(OrchestratorDeps{
		Conversations: store.Conversations(),
		Messages:      store.Messages(),
		Tasks:         store.Tasks(),
		Profiles:      store.Profiles(),
		Engine:        engine,
		NewID:         func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
	}, cfg, zap.NewNop())
	h.orch.OnTaskEvent(func(ev TaskEvent) {
		h.mu.Lock()
		h.events = append(h.events, ev)
		h.mu.Unlock()
	})
	return h
}

func (h *harness) eventsFor(taskID string) []TaskEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []TaskEvent
	for _, ev := range h.events {
		if ev.TaskID == taskID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *harness) assistantMessages(t *testing.T) []*entity.Message {
	t.Helper()
	all, err := h.store.Messages().ListByConversation(context.Background(), h.conv.ID(), 0, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	var out []*entity.Message
	for _, m := range all {
		if m.Role() == entity.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}

func (h *harness) status(t *testing.T, taskID string) *entity.GenerationTask {
	t.Helper()
	task, err := h.orch.Task(context.Background(), taskID)
	if err != nil {
		t.Fatalf("Task(%s): %v", taskID, err)
	}
	return task
}

// gate is an engine that blocks every call until released.
type gate struct {
	started chan struct{}
	release chan struct{}
	reply   string
}

func newGate(reply string) *gate {
	return &gate{started: make(chan struct{}, 64), release: make(chan struct{}), reply: reply}
}

func (g *gate) Generate(ctx context.Context, _ string, _ prompt.DecodingParams) (string, error) {
	g.started <- struct{}{}
	<-g.release
	return g.reply, nil
}

func (g *gate) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(2 * time.Second):
		t.Fatal("engine was never called")
	}
}

func TestRequestReply_CommitsReply(t *testing.T) {
	var seen string
	engine := InferenceFunc(func(ctx context.Context, text string, params prompt.DecodingParams) (string, error) {
		seen = text
		return "  Hello back.  ", nil
	})
	h := newHarness(t, engine, OrchestratorConfig{}, true)

	msg, handle, err := h.orch.RequestReply(context.Background(), h.conv.ID(), "hello")
	if err != nil {
		t.Fatalf("RequestReply: %v", err)
	}
	if handle == nil || handle.TaskID == "" {
		t.Fatal("expected a task handle")
	}
	if msg.Seq() != 1 || msg.Role() != entity.RoleUser {
		t.Errorf("user message seq=%d role=%s", msg.Seq(), msg.Role())
	}
	h.orch.Wait()

	task := h.status(t, handle.TaskID)
	if task.Status() != entity.TaskCompleted {
		t.Fatalf("status = %s, want completed", task.Status())
	}
	replies := h.assistantMessages(t)
	if len(replies) != 1 || replies[0].Content() != "Hello back." || replies[0].Seq() != 2 {
		t.Fatalf("assistant messages = %v", replies)
	}
	if task.ReplyMessageID() != replies[0].ID() {
		t.Errorf("reply id = %s, want %s", task.ReplyMessageID(), replies[0].ID())
	}

	if !strings.HasPrefix(seen, "You are a warm partner.") || !strings.HasSuffix(seen, prompt.ReplyCue) {
		t.Errorf("prompt layout unexpected:\n%s", seen)
	}
	if !strings.Contains(seen, "User: hello") {
		t.Errorf("prompt is missing the user turn:\n%s", seen)
	}

	var path []entity.TaskStatus
	for _, ev := range h.eventsFor(handle.TaskID) {
		path = append(path, ev.To)
	}
	want := []entity.TaskStatus{entity.TaskPending, entity.TaskRunning, entity.TaskCompleted}
	if fmt.Sprint(path) != fmt.Sprint(want) {
		t.Errorf("event path = %v, want %v", path, want)
	}
}

func TestRequestReply_AIDisabledCreatesNoTask(t *testing.T) {
	called := false
	engine := InferenceFunc(func(context.Context, string, prompt.DecodingParams) (string, error) {
		called = true
		return "x", nil
	})
	h := newHarness(t, engine, OrchestratorConfig{}, true)
	ctx := context.Background()

	if _, err := h.orch.SetAIEnabled(ctx, h.conv.ID(), false); err != nil {
		t.Fatalf("SetAIEnabled: %v", err)
	}
	msg, handle, err := h.orch.RequestReply(ctx, h.conv.ID(), "anyone there?")
	if err != nil {
		t.Fatalf("RequestReply: %v", err)
	}
	h.orch.Wait()

	if handle != nil {
		t.Errorf("handle = %+v, want nil", handle)
	}
	if msg == nil || msg.Seq() != 1 {
		t.Error("user message must still be stored")
	}
	if n, _ := h.store.Tasks().CountActive(ctx, h.conv.ID()); n != 0 {
		t.Errorf("active tasks = %d", n)
	}
	if called {
		t.Error("engine called while AI disabled")
	}
}

func TestRequestReply_NewMessageSupersedesActiveTask(t *testing.T) {
	g := newGate("only the latest")
	h := newHarness(t, g, OrchestratorConfig{}, true)
	ctx := context.Background()

	_, first, err := h.orch.RequestReply(ctx, h.conv.ID(), "first")
	if err != nil {
		t.Fatalf("first RequestReply: %v", err)
	}
	g.waitStarted(t)

	_, second, err := h.orch.RequestReply(ctx, h.conv.ID(), "second")
	if err != nil {
		t.Fatalf("second RequestReply: %v", err)
	}
	if second.Superseded != first.TaskID {
		t.Errorf("Superseded = %q, want %q", second.Superseded, first.TaskID)
	}
	if n, _ := h.store.Tasks().CountActive(ctx, h.conv.ID()); n != 1 {
		t.Errorf("active tasks = %d, want 1", n)
	}

	close(g.release)
	h.orch.Wait()

	if s := h.status(t, first.TaskID).Status(); s != entity.TaskCancelled {
		t.Errorf("first task = %s, want cancelled", s)
	}
	if s := h.status(t, second.TaskID).Status(); s != entity.TaskCompleted {
		t.Errorf("second task = %s, want completed", s)
	}
	if replies := h.assistantMessages(t); len(replies) != 1 {
		t.Errorf("assistant messages = %d, want 1", len(replies))
	}

	evs := h.eventsFor(first.TaskID)
	last := evs[len(evs)-1]
	if last.To != entity.TaskCancelled || last.Reason != ReasonSuperseded {
		t.Errorf("first task last event = %+v", last)
	}
}

func TestRequestReply_ConcurrentSingleFlight(t *testing.T) {
	g := newGate("reply")
	h := newHarness(t, g, OrchestratorConfig{}, true)
	ctx := context.Background()

	// sample the active count for the whole injection window
	var maxActive atomic.Int64
	stopWatch := make(chan struct{})
	watchDone := make(chan struct{})
	sample := func() {
		n, err := h.store.Tasks().CountActive(ctx, h.conv.ID())
		if err != nil {
			return
		}
		for cur := maxActive.Load(); n > cur && !maxActive.CompareAndSwap(cur, n); cur = maxActive.Load() {
		}
	}
	go func() {
		defer close(watchDone)
		for {
			select {
			case <-stopWatch:
				return
			default:
				sample()
			}
		}
	}()
	h.orch.OnTaskEvent(func(TaskEvent) { sample() })

	const senders = 16
	var wg sync.WaitGroup
	errs := make(chan error, senders)
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, _, err := h.orch.RequestReply(ctx, h.conv.ID(), fmt.Sprintf("msg %d", i)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(stopWatch)
	<-watchDone
	close(errs)
	for err := range errs {
		t.Errorf("RequestReply: %v", err)
	}

	if got := maxActive.Load(); got > 1 {
		t.Errorf("observed %d active tasks at once", got)
	}
	if n, _ := h.store.Tasks().CountActive(ctx, h.conv.ID()); n != 1 {
		t.Errorf("active tasks = %d, want 1", n)
	}

	close(g.release)
	h.orch.Wait()

	if n, _ := h.store.Tasks().CountActive(ctx, h.conv.ID()); n != 0 {
		t.Errorf("active tasks after drain = %d", n)
	}
	if replies := h.assistantMessages(t); len(replies) != 1 {
		t.Errorf("assistant messages = %d, want 1", len(replies))
	}
	if got := h.orch.Machine().TransitionCounts()[entity.TaskCancelled]; got != senders-1 {
		t.Errorf("cancelled = %d, want %d", got, senders-1)
	}
}

func TestCancel_WhileRunningDiscardsReply(t *testing.T) {
	g := newGate("too late")
	h := newHarness(t, g, OrchestratorConfig{}, true)
	ctx := context.Background()

	_, handle, _ := h.orch.RequestReply(ctx, h.conv.ID(), "hi")
	g.waitStarted(t)

	task, changed, err := h.orch.Cancel(ctx, handle.TaskID)
	if err != nil || !changed {
		t.Fatalf("Cancel: changed=%v err=%v", changed, err)
	}
	if task.Status() != entity.TaskCancelled {
		t.Errorf("status = %s", task.Status())
	}

	close(g.release)
	h.orch.Wait()

	if replies := h.assistantMessages(t); len(replies) != 0 {
		t.Errorf("cancelled reply was committed: %v", replies[0].Content())
	}
}

func TestCancel_AfterCommitIsNoop(t *testing.T) {
	engine := InferenceFunc(func(context.Context, string, prompt.DecodingParams) (string, error) {
		return "done", nil
	})
	h := newHarness(t, engine, OrchestratorConfig{}, true)
	ctx := context.Background()

	_, handle, _ := h.orch.RequestReply(ctx, h.conv.ID(), "hi")
	h.orch.Wait()

	task, changed, err := h.orch.Cancel(ctx, handle.TaskID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if changed || task.Status() != entity.TaskCompleted {
		t.Errorf("changed=%v status=%s", changed, task.Status())
	}
	if replies := h.assistantMessages(t); len(replies) != 1 {
		t.Errorf("committed reply lost: %d", len(replies))
	}
}

func TestSetAIEnabled_CancelsActiveTask(t *testing.T) {
	g := newGate("never shown")
	h := newHarness(t, g, OrchestratorConfig{}, true)
	ctx := context.Background()

	_, handle, _ := h.orch.RequestReply(ctx, h.conv.ID(), "hi")
	g.waitStarted(t)

	conv, err := h.orch.SetAIEnabled(ctx, h.conv.ID(), false)
	if err != nil || conv.AIEnabled() {
		t.Fatalf("SetAIEnabled: ai=%v err=%v", conv.AIEnabled(), err)
	}
	close(g.release)
	h.orch.Wait()

	if s := h.status(t, handle.TaskID).Status(); s != entity.TaskCancelled {
		t.Errorf("status = %s, want cancelled", s)
	}
	evs := h.eventsFor(handle.TaskID)
	if last := evs[len(evs)-1]; last.Reason != ReasonAIDisabled {
		t.Errorf("reason = %q", last.Reason)
	}
}

func TestAppendAdminMessage_BypassesTasks(t *testing.T) {
	g := newGate("still delivered")
	h := newHarness(t, g, OrchestratorConfig{}, true)
	ctx := context.Background()

	// idle conversation: no task appears
	if _, err := h.orch.AppendAdminMessage(ctx, h.conv.ID(), "operator note"); err != nil {
		t.Fatalf("AppendAdminMessage: %v", err)
	}
	if n, _ := h.store.Tasks().CountActive(ctx, h.conv.ID()); n != 0 {
		t.Fatalf("admin message created a task")
	}

	// busy conversation: the running task survives
	_, handle, _ := h.orch.RequestReply(ctx, h.conv.ID(), "hi")
	g.waitStarted(t)
	if _, err := h.orch.AppendAdminMessage(ctx, h.conv.ID(), "stepping in"); err != nil {
		t.Fatalf("AppendAdminMessage: %v", err)
	}
	if s := h.status(t, handle.TaskID).Status(); s != entity.TaskRunning {
		t.Errorf("status after admin message = %s, want running", s)
	}

	close(g.release)
	h.orch.Wait()
	if s := h.status(t, handle.TaskID).Status(); s != entity.TaskCompleted {
		t.Errorf("status = %s, want completed", s)
	}
}

func TestRequestReply_TimeoutReleasesSlot(t *testing.T) {
	g := newGate("ignored deadline")
	h := newHarness(t, g, OrchestratorConfig{TaskTimeout: 50 * time.Millisecond}, true)
	ctx := context.Background()

	_, handle, _ := h.orch.RequestReply(ctx, h.conv.ID(), "hi")
	g.waitStarted(t)

	// the engine ignores ctx; the watchdog must still fail the task
	deadline := time.Now().Add(2 * time.Second)
	for h.status(t, handle.TaskID).Status() != entity.TaskFailed {
		if time.Now().After(deadline) {
			t.Fatal("task never timed out")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if reason := h.status(t, handle.TaskID).FailureReason(); reason != entity.FailureTimeout {
		t.Errorf("failure reason = %q", reason)
	}
	if n, _ := h.store.Tasks().CountActive(ctx, h.conv.ID()); n != 0 {
		t.Errorf("slot still held after timeout")
	}

	close(g.release)
	h.orch.Wait()
	if replies := h.assistantMessages(t); len(replies) != 0 {
		t.Error("reply committed after timeout")
	}
}

func TestRequestReply_EngineErrors(t *testing.T) {
	tests := []struct {
		name   string
		engine InferenceFunc
		reason string
	}{
		{
			name: "error",
			engine: func(context.Context, string, prompt.DecodingParams) (string, error) {
				return "", fmt.Errorf("backend down")
			},
			reason: entity.FailureInference,
		},
		{
			name: "empty reply",
			engine: func(context.Context, string, prompt.DecodingParams) (string, error) {
				return "   ", nil
			},
			reason: entity.FailureInference,
		},
		{
			name: "deadline",
			engine: func(ctx context.Context, _ string, _ prompt.DecodingParams) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			},
			reason: entity.FailureTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.engine, OrchestratorConfig{TaskTimeout: 50 * time.Millisecond}, true)
			_, handle, err := h.orch.RequestReply(context.Background(), h.conv.ID(), "hi")
			if err != nil {
				t.Fatalf("RequestReply: %v", err)
			}
			h.orch.Wait()

			task := h.status(t, handle.TaskID)
			if task.Status() != entity.TaskFailed || task.FailureReason() != tt.reason {
				t.Errorf("status=%s reason=%q, want failed/%q", task.Status(), task.FailureReason(), tt.reason)
			}
		})
	}
}

func TestRequestReply_NoActiveProfile(t *testing.T) {
	engine := InferenceFunc(func(context.Context, string, prompt.DecodingParams) (string, error) {
		return "x", nil
	})
	h := newHarness(t, engine, OrchestratorConfig{}, false)

	_, handle, err := h.orch.RequestReply(context.Background(), h.conv.ID(), "hi")
	if err == nil {
		t.Fatal("expected an error without an active profile")
	}
	if handle == nil {
		t.Fatal("handle should identify the failed task")
	}
	task := h.status(t, handle.TaskID)
	if task.Status() != entity.TaskFailed || task.FailureReason() != entity.FailureAssembly {
		t.Errorf("status=%s reason=%q", task.Status(), task.FailureReason())
	}
}

func TestRequestReply_ObservesCommittedTurns(t *testing.T) {
	store := persistence.NewMemoryStore()
	ctx := context.Background()
	p, _ := entity.NewSystemPromptProfile("p1", "default", "head", "rules")
	_ = store.Profiles().Save(ctx, p)
	_, _ = store.Profiles().Activate(ctx, "p1")
	conv, _, _ := store.Conversations().FindOrCreateByUser(ctx, "u1", "c1")

	words := budget.TokenizerFunc(func(s string) int { return len(strings.Fields(s)) })
	est := budget.NewEstimator(words, 16)

	orch := NewReplyOrchestrator(OrchestratorDeps{
		Conversations: store.Conversations(),
		Messages:      store.Messages(),
		Tasks:         store.Tasks(),
		Profiles:      store.Profiles(),
		Estimator:     est,
		Engine: InferenceFunc(func(context.Context, string, prompt.DecodingParams) (string, error) {
			return "a short reply", nil
		}),
	}, OrchestratorConfig{}, zap.NewNop())

	msg, _, err := orch.RequestReply(ctx, conv.ID(), "hello there")
	if err != nil {
		t.Fatalf("RequestReply: %v", err)
	}
	orch.Wait()

	if got := est.Count(prompt.RenderTurn(msg)); got != 3 {
		t.Errorf("memoized count = %d, want the tokenizer's 3", got)
	}
	if est.Stats().Size < 2 {
		t.Errorf("memo size = %d, want both turns observed", est.Stats().Size)
	}
}
