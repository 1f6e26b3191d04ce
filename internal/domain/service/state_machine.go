package service

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
)

// Cancellation reasons carried on TaskEvent.Reason.
const (
	ReasonSuperseded = "superseded"  // replaced by a newer user message
	ReasonRequested  = "requested"   // explicit cancel call
	ReasonAIDisabled = "ai_disabled" // automated replies switched off
)

// TaskEvent describes one task status change.
type TaskEvent struct {
	TaskID         string            `json:"task_id"`
	ConversationID string            `json:"conversation_id"`
	From           entity.TaskStatus `json:"from,omitempty"` // empty on creation
	To             entity.TaskStatus `json:"to"`
	Reason         string            `json:"reason,omitempty"`
	MessageID      string            `json:"message_id,omitempty"`
	At             time.Time         `json:"at"`
}

// TaskStateMachine validates task transitions reported by the store and
// fans them out to listeners. The store owns task state; this type only
// observes it.
// Listeners may be registered while events are being emitted.
type TaskStateMachine struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	listeners []func(TaskEvent)

	transitions map[entity.TaskStatus]int64
	violations  int64
}

// NewTaskStateMachine creates an empty state machine.
func NewTaskStateMachine(logger *zap.Logger) *TaskStateMachine {
	return &TaskStateMachine{
		logger:      logger,
		transitions: make(map[entity.TaskStatus]int64),
	}
}

// Emit records a transition of task from → task.Status() and notifies
// listeners. A transition outside the table is logged and dropped.
func (sm *TaskStateMachine) Emit(task *entity.GenerationTask, from entity.TaskStatus, reason string) error {
	to := task.Status()
	if from != "" && !entity.CanTransition(from, to) {
		sm.mu.Lock()
		sm.violations++
		sm.mu.Unlock()
		err := fmt.Errorf("%w: %s → %s", entity.ErrInvalidTransition, from, to)
		sm.logger.Error("Task state machine violation",
			zap.String("task_id", task.ID()),
			zap.Error(err),
		)
		return err
	}

	ev := TaskEvent{
		TaskID:         task.ID(),
		ConversationID: task.ConversationID(),
		From:           from,
		To:             to,
		Reason:         reason,
		MessageID:      task.ReplyMessageID(),
		At:             time.Now().UTC(),
	}
	if ev.Reason == "" && to == entity.TaskFailed {
		ev.Reason = task.FailureReason()
	}

	sm.mu.Lock()
	sm.transitions[to]++
	listeners := make([]func(TaskEvent), len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	sm.logger.Debug("Task transition",
		zap.String("task_id", ev.TaskID),
		zap.String("conversation_id", ev.ConversationID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", ev.Reason),
	)

	// Notify listeners outside lock
	for _, fn := range listeners {
		fn(ev)
	}
	return nil
}

// OnTransition registers a listener called on every task status change.
func (sm *TaskStateMachine) OnTransition(fn func(TaskEvent)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, fn)
}

// TransitionCounts returns how many tasks entered each status.
func (sm *TaskStateMachine) TransitionCounts() map[entity.TaskStatus]int64 {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make(map[entity.TaskStatus]int64, len(sm.transitions))
	for k, v := range sm.transitions {
		out[k] = v
	}
	return out
}

// Violations returns the number of rejected transitions.
func (sm *TaskStateMachine) Violations() int64 {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.violations
}
