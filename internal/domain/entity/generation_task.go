package entity

import (
	"fmt"
	"time"
)

// TaskStatus represents the discrete states of a reply generation task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"   // Created, waiting for a worker
	TaskRunning   TaskStatus = "running"   // Awaiting the inference engine
	TaskCompleted TaskStatus = "completed" // Reply committed
	TaskFailed    TaskStatus = "failed"    // Inference error or timeout
	TaskCancelled TaskStatus = "cancelled" // Cancelled before commit
)

// taskTransitions defines the allowed status transitions.
// Key = from status, Value = set of allowed target statuses.
var taskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskPending: {
		TaskRunning:   true,
		TaskFailed:    true,
		TaskCancelled: true,
	},
	TaskRunning: {
		TaskCompleted: true,
		TaskFailed:    true,
		TaskCancelled: true,
	},
	// Terminal statuses have no transitions out
	TaskCompleted: {},
	TaskFailed:    {},
	TaskCancelled: {},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to TaskStatus) bool {
	allowed, ok := taskTransitions[from]
	return ok && allowed[to]
}

// IsTerminal returns true for completed, failed and cancelled.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// IsActive returns true while the task occupies its conversation's slot.
func (s TaskStatus) IsActive() bool {
	return s == TaskPending || s == TaskRunning
}

// Failure reasons recorded on failed tasks.
const (
	FailureTimeout   = "timeout"
	FailureInference = "inference_error"
	FailureAssembly  = "prompt_assembly"
)

// GenerationTask 回复生成任务
// 唯一的短生命周期可变实体：每次回复请求创建，在限定时间窗口内终止
type GenerationTask struct {
	id             string
	conversationID string
	userID         string
	status         TaskStatus
	cancelled      bool
	failureReason  string
	replyMessageID string
	createdAt      time.Time
	updatedAt      time.Time
}

// NewGenerationTask 创建待处理任务
func NewGenerationTask(id, conversationID, userID string) (*GenerationTask, error) {
	if id == "" {
		return nil, ErrInvalidTaskID
	}
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	now := time.Now().UTC()
	return &GenerationTask{
		id:             id,
		conversationID: conversationID,
		userID:         userID,
		status:         TaskPending,
		createdAt:      now,
		updatedAt:      now,
	}, nil
}

// ReconstructGenerationTask 重建任务（用于从持久化层恢复）
func ReconstructGenerationTask(
	id, conversationID, userID string,
	status TaskStatus,
	cancelled bool,
	failureReason, replyMessageID string,
	createdAt, updatedAt time.Time,
) *GenerationTask {
	return &GenerationTask{
		id:             id,
		conversationID: conversationID,
		userID:         userID,
		status:         status,
		cancelled:      cancelled,
		failureReason:  failureReason,
		replyMessageID: replyMessageID,
		createdAt:      createdAt,
		updatedAt:      updatedAt,
	}
}

func (t *GenerationTask) ID() string             { return t.id }
func (t *GenerationTask) ConversationID() string { return t.conversationID }
func (t *GenerationTask) UserID() string         { return t.userID }
func (t *GenerationTask) Status() TaskStatus     { return t.status }
func (t *GenerationTask) Cancelled() bool        { return t.cancelled }
func (t *GenerationTask) FailureReason() string  { return t.failureReason }
func (t *GenerationTask) ReplyMessageID() string { return t.replyMessageID }
func (t *GenerationTask) CreatedAt() time.Time   { return t.createdAt }
func (t *GenerationTask) UpdatedAt() time.Time   { return t.updatedAt }

// Transition moves the task to a new status.
// Returns ErrInvalidTransition if the move is not in the table.
func (t *GenerationTask) Transition(to TaskStatus) error {
	if !CanTransition(t.status, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, t.status, to)
	}
	t.status = to
	t.updatedAt = time.Now().UTC()
	return nil
}

// Start is the first cancellation checkpoint: pending → running unless cancelled.
func (t *GenerationTask) Start() error {
	if t.cancelled {
		return ErrTaskNotActive
	}
	return t.Transition(TaskRunning)
}

// Cancel sets the cancelled flag and moves an active task to cancelled.
// Cancelling a terminal task is a no-op that reports false.
func (t *GenerationTask) Cancel() bool {
	if t.status.IsTerminal() {
		return false
	}
	t.cancelled = true
	_ = t.Transition(TaskCancelled)
	return true
}

// Fail moves an active task to failed with the given reason.
func (t *GenerationTask) Fail(reason string) error {
	if err := t.Transition(TaskFailed); err != nil {
		return err
	}
	t.failureReason = reason
	return nil
}

// Complete is the commit checkpoint: running → completed, recording the reply.
func (t *GenerationTask) Complete(replyMessageID string) error {
	if t.cancelled || t.status != TaskRunning {
		return ErrTaskNotActive
	}
	if err := t.Transition(TaskCompleted); err != nil {
		return err
	}
	t.replyMessageID = replyMessageID
	return nil
}

// Clone returns an independent copy.
func (t *GenerationTask) Clone() *GenerationTask {
	cp := *t
	return &cp
}
