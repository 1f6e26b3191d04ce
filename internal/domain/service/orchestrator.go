package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/domain/budget"
	"github.com/ngoclaw/scenegate/internal/domain/entity"
	"github.com/ngoclaw/scenegate/internal/domain/prompt"
	"github.com/ngoclaw/scenegate/internal/domain/repository"
	"github.com/ngoclaw/scenegate/pkg/safego"
)

// OrchestratorConfig 回复编排配置
type OrchestratorConfig struct {
	TaskTimeout   time.Duration
	CommitTimeout time.Duration // bound on store writes made after inference
	HistoryWindow int           // messages loaded before trimming
	Budget        prompt.TokenBudget
	DefaultTier   prompt.DecodingTier
}

// DefaultOrchestratorConfig 默认配置
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		TaskTimeout:   60 * time.Second,
		CommitTimeout: 5 * time.Second,
		HistoryWindow: 50,
		Budget:        prompt.DefaultTokenBudget(),
		DefaultTier:   prompt.DefaultTier,
	}
}

// OrchestratorDeps groups the collaborators of a ReplyOrchestrator.
type OrchestratorDeps struct {
	Conversations repository.ConversationRepository
	Messages      repository.MessageRepository
	Tasks         repository.TaskRepository
	Profiles      repository.ProfileRepository
	Assembler     *prompt.Assembler
	Estimator     *budget.Estimator
	Engine        InferenceEngine
	Machine       *TaskStateMachine
	NewID         func() string
}

// ReplyHandle identifies a dispatched generation task.
type ReplyHandle struct {
	TaskID         string
	ConversationID string
	Superseded     string // task cancelled to make room, if any
	Tier           prompt.DecodingTier
	PromptStats    prompt.Stats
}

// ReplyOption customizes one RequestReply call.
type ReplyOption func(*replyOptions)

type replyOptions struct {
	tier prompt.DecodingTier
}

// WithTier selects the decoding tier for one reply.
func WithTier(tier prompt.DecodingTier) ReplyOption {
	return func(o *replyOptions) { o.tier = tier }
}

// ReplyOrchestrator runs asynchronous reply generation with at most one
// active task per conversation. A new user message cancels the active task
// and replaces it.
//
// Appends to a conversation are serialized by a per-conversation lock;
// different conversations proceed in parallel.
type ReplyOrchestrator struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	tasks         repository.TaskRepository
	profiles      repository.ProfileRepository
	assembler     *prompt.Assembler
	estimator     *budget.Estimator
	engine        InferenceEngine
	machine       *TaskStateMachine
	newID         func() string

	config OrchestratorConfig
	logger *zap.Logger
	locks  *keyedMutex
	wg     sync.WaitGroup
}

// NewReplyOrchestrator creates an orchestrator.
func NewReplyOrchestrator(deps OrchestratorDeps, config OrchestratorConfig, logger *zap.Logger) *ReplyOrchestrator {
	def := DefaultOrchestratorConfig()
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = def.TaskTimeout
	}
	if config.CommitTimeout <= 0 {
		config.CommitTimeout = def.CommitTimeout
	}
	if config.HistoryWindow <= 0 {
		config.HistoryWindow = def.HistoryWindow
	}
	if config.Budget == (prompt.TokenBudget{}) {
		config.Budget = def.Budget
	}
	if config.DefaultTier == "" {
		config.DefaultTier = def.DefaultTier
	}
	if deps.Machine == nil {
		deps.Machine = NewTaskStateMachine(logger)
	}
	if deps.Estimator == nil {
		deps.Estimator = budget.NewEstimator(nil, 0)
	}
	if deps.Assembler == nil {
		deps.Assembler = prompt.NewAssembler(deps.Estimator)
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}

	return &ReplyOrchestrator{
		conversations: deps.Conversations,
		messages:      deps.Messages,
		tasks:         deps.Tasks,
		profiles:      deps.Profiles,
		assembler:     deps.Assembler,
		estimator:     deps.Estimator,
		engine:        deps.Engine,
		machine:       deps.Machine,
		newID:         deps.NewID,
		config:        config,
		logger:        logger.With(zap.String("component", "reply_orchestrator")),
		locks:         newKeyedMutex(),
	}
}

// OnTaskEvent registers a listener for task status changes.
func (o *ReplyOrchestrator) OnTaskEvent(fn func(TaskEvent)) {
	o.machine.OnTransition(fn)
}

// Machine exposes the task state machine for metrics.
func (o *ReplyOrchestrator) Machine() *TaskStateMachine { return o.machine }

// RequestReply appends a user message and, when automated replies are
// enabled, dispatches a generation task for it. The returned handle is nil
// when the conversation has AI disabled.
func (o *ReplyOrchestrator) RequestReply(ctx context.Context, conversationID, content string, opts ...ReplyOption) (*entity.Message, *ReplyHandle, error) {
	ro := replyOptions{tier: o.config.DefaultTier}
	for _, opt := range opts {
		opt(&ro)
	}

	unlock := o.locks.Lock(conversationID)
	defer unlock()

	conv, err := o.conversations.FindByID(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}

	msg, err := entity.NewMessage(o.newID(), conversationID, entity.RoleUser, content)
	if err != nil {
		return nil, nil, err
	}
	userMsg, err := o.messages.Append(ctx, msg)
	if err != nil {
		return nil, nil, fmt.Errorf("append user message: %w", err)
	}

	// Admission check
	if !conv.AIEnabled() {
		o.logger.Debug("AI disabled, message stored without reply",
			zap.String("conversation_id", conversationID),
		)
		return userMsg, nil, nil
	}

	handle := &ReplyHandle{ConversationID: conversationID, Tier: ro.tier}

	// Replace-by-cancel: the newest message wins the slot
	active, err := o.tasks.FindActive(ctx, conversationID)
	if err != nil {
		return userMsg, nil, fmt.Errorf("find active task: %w", err)
	}
	if active != nil {
		if o.cancel(ctx, active.ID(), ReasonSuperseded) {
			handle.Superseded = active.ID()
		}
	}

	task, err := entity.NewGenerationTask(o.newID(), conversationID, conv.UserID())
	if err != nil {
		return userMsg, nil, err
	}
	if err := o.tasks.CreateIfIdle(ctx, task); err != nil {
		return userMsg, nil, fmt.Errorf("create task: %w", err)
	}
	handle.TaskID = task.ID()
	_ = o.machine.Emit(task, "", "")

	p, err := o.assemble(ctx, conv, ro.tier)
	if err != nil {
		o.fail(task.ID(), entity.FailureAssembly)
		return userMsg, handle, err
	}
	handle.PromptStats = p.Stats

	o.dispatch(task.ID(), conversationID, userMsg, p)
	return userMsg, handle, nil
}

// AppendAdminMessage stores an operator message. It never starts or
// cancels a task.
func (o *ReplyOrchestrator) AppendAdminMessage(ctx context.Context, conversationID, content string) (*entity.Message, error) {
	unlock := o.locks.Lock(conversationID)
	defer unlock()

	if _, err := o.conversations.FindByID(ctx, conversationID); err != nil {
		return nil, err
	}
	msg, err := entity.NewMessage(o.newID(), conversationID, entity.RoleAdmin, content)
	if err != nil {
		return nil, err
	}
	appended, err := o.messages.Append(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("append admin message: %w", err)
	}
	o.logger.Info("Admin message appended",
		zap.String("conversation_id", conversationID),
		zap.Int64("seq", appended.Seq()),
	)
	return appended, nil
}

// SetAIEnabled toggles automated replies. Disabling also cancels the
// conversation's active task.
func (o *ReplyOrchestrator) SetAIEnabled(ctx context.Context, conversationID string, enabled bool) (*entity.Conversation, error) {
	unlock := o.locks.Lock(conversationID)
	defer unlock()

	if err := o.conversations.UpdateAIEnabled(ctx, conversationID, enabled); err != nil {
		return nil, err
	}
	conv, err := o.conversations.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if !enabled {
		active, err := o.tasks.FindActive(ctx, conversationID)
		if err != nil {
			return conv, fmt.Errorf("find active task: %w", err)
		}
		if active != nil {
			o.cancel(ctx, active.ID(), ReasonAIDisabled)
		}
	}
	return conv, nil
}

// Cancel cancels a task. It reports whether the task was still active;
// cancelling a finished task has no effect.
func (o *ReplyOrchestrator) Cancel(ctx context.Context, taskID string) (*entity.GenerationTask, bool, error) {
	task, from, err := o.tasks.Cancel(ctx, taskID)
	if err != nil {
		return nil, false, err
	}
	changed := from != task.Status()
	if changed {
		_ = o.machine.Emit(task, from, ReasonRequested)
	}
	return task, changed, nil
}

// Task returns a task by id.
func (o *ReplyOrchestrator) Task(ctx context.Context, taskID string) (*entity.GenerationTask, error) {
	return o.tasks.FindByID(ctx, taskID)
}

// Wait blocks until every dispatched worker has returned.
func (o *ReplyOrchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown waits for in-flight workers or until ctx is done.
func (o *ReplyOrchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *ReplyOrchestrator) assemble(ctx context.Context, conv *entity.Conversation, tier prompt.DecodingTier) (*prompt.Prompt, error) {
	profile, err := o.profiles.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active profile: %w", err)
	}
	history, err := o.messages.Recent(ctx, conv.ID(), o.config.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return o.assembler.Assemble(profile, conv.ScenarioText(), history, o.config.Budget, tier)
}

func (o *ReplyOrchestrator) cancel(ctx context.Context, taskID, reason string) bool {
	task, from, err := o.tasks.Cancel(ctx, taskID)
	if err != nil {
		o.logger.Warn("Cancel task failed", zap.String("task_id", taskID), zap.Error(err))
		return false
	}
	if from == task.Status() {
		return false
	}
	_ = o.machine.Emit(task, from, reason)
	return true
}

// fail marks an active task failed. Losing the race to another terminal
// transition is not an error.
func (o *ReplyOrchestrator) fail(taskID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.config.CommitTimeout)
	defer cancel()

	task, from, err := o.tasks.Fail(ctx, taskID, reason)
	if err != nil {
		if !errors.Is(err, entity.ErrTaskNotActive) {
			o.logger.Error("Fail task", zap.String("task_id", taskID), zap.Error(err))
		}
		return
	}
	_ = o.machine.Emit(task, from, reason)
}

func (o *ReplyOrchestrator) dispatch(taskID, conversationID string, userMsg *entity.Message, p *prompt.Prompt) {
	// The watchdog releases the slot even if the engine never returns.
	watchdog := time.AfterFunc(o.config.TaskTimeout, func() {
		o.logger.Warn("Task timed out",
			zap.String("task_id", taskID),
			zap.Duration("timeout", o.config.TaskTimeout),
		)
		o.fail(taskID, entity.FailureTimeout)
	})

	o.wg.Add(1)
	safego.Go(o.logger, "reply-worker", func() {
		defer o.wg.Done()
		defer watchdog.Stop()
		o.run(taskID, conversationID, userMsg, p)
	})
}

// run is the worker body. It consults the cancelled flag at two
// checkpoints: Start before inference and CommitReply before the reply
// becomes visible.
func (o *ReplyOrchestrator) run(taskID, conversationID string, userMsg *entity.Message, p *prompt.Prompt) {
	log := o.logger.With(zap.String("task_id", taskID), zap.String("conversation_id", conversationID))

	ctx, cancel := context.WithTimeout(context.Background(), o.config.TaskTimeout)
	defer cancel()

	// Checkpoint 1
	task, err := o.tasks.Start(ctx, taskID)
	if err != nil {
		if errors.Is(err, entity.ErrTaskNotActive) {
			log.Debug("Task ended before start")
			return
		}
		log.Error("Start task", zap.Error(err))
		o.fail(taskID, entity.FailureInference)
		return
	}
	_ = o.machine.Emit(task, entity.TaskPending, "")

	start := time.Now()
	reply, err := o.engine.Generate(ctx, p.Text, p.Params)
	if err != nil {
		reason := entity.FailureInference
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = entity.FailureTimeout
		}
		log.Warn("Inference failed", zap.String("reason", reason), zap.Error(err))
		o.fail(taskID, reason)
		return
	}
	reply = prompt.CleanReply(reply)
	if reply == "" {
		log.Warn("Inference returned empty reply")
		o.fail(taskID, entity.FailureInference)
		return
	}

	msg, err := entity.NewMessage(o.newID(), conversationID, entity.RoleAssistant, reply)
	if err != nil {
		o.fail(taskID, entity.FailureInference)
		return
	}

	// Checkpoint 2: the commit is the single source of truth
	commitCtx, commitCancel := context.WithTimeout(context.Background(), o.config.CommitTimeout)
	defer commitCancel()

	unlock := o.locks.Lock(conversationID)
	done, committed, err := o.tasks.CommitReply(commitCtx, taskID, msg)
	unlock()
	if err != nil {
		if errors.Is(err, entity.ErrTaskNotActive) {
			log.Info("Reply discarded, task no longer active")
			return
		}
		log.Error("Commit reply", zap.Error(err))
		o.fail(taskID, entity.FailureInference)
		return
	}
	_ = o.machine.Emit(done, entity.TaskRunning, "")

	log.Info("Reply committed",
		zap.String("message_id", committed.ID()),
		zap.Int64("seq", committed.Seq()),
		zap.Duration("latency", time.Since(start)),
	)

	o.estimator.Observe(prompt.RenderTurn(userMsg))
	o.estimator.Observe(prompt.RenderTurn(committed))
}
