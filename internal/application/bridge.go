package application

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/application/usecase"
	"github.com/ngoclaw/scenegate/internal/domain/entity"
	"github.com/ngoclaw/scenegate/internal/domain/repository"
	"github.com/ngoclaw/scenegate/internal/domain/service"
	"github.com/ngoclaw/scenegate/internal/infrastructure/eventbus"
)

// taskEventBridge republishes orchestrator task transitions on the event
// bus. A completed transition also announces the committed assistant
// message, which only exists once the commit checkpoint has passed.
type taskEventBridge struct {
	bus      eventbus.Bus
	messages repository.MessageRepository
	logger   *zap.Logger
	timeout  time.Duration
}

func newTaskEventBridge(bus eventbus.Bus, messages repository.MessageRepository, logger *zap.Logger) *taskEventBridge {
	return &taskEventBridge{
		bus:      bus,
		messages: messages,
		logger:   logger.With(zap.String("component", "task_bridge")),
		timeout:  5 * time.Second,
	}
}

// Attach registers the bridge as an orchestrator listener.
func (b *taskEventBridge) Attach(orch *service.ReplyOrchestrator) {
	orch.OnTaskEvent(b.handle)
}

func (b *taskEventBridge) handle(ev service.TaskEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	b.bus.Publish(ctx, eventbus.NewEvent(eventbus.EventTaskTransition, ev))

	if ev.To != entity.TaskCompleted || ev.MessageID == "" {
		return
	}
	msg, err := b.messages.FindByID(ctx, ev.MessageID)
	if err != nil {
		b.logger.Warn("Committed reply not found",
			zap.String("task_id", ev.TaskID),
			zap.String("message_id", ev.MessageID),
			zap.Error(err),
		)
		return
	}
	b.bus.Publish(ctx, eventbus.NewEvent(eventbus.EventMessageAppended, usecase.MessagePayloadOf(msg)))
}
