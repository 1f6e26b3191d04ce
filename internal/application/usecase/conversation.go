package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
	"github.com/ngoclaw/scenegate/internal/domain/prompt"
	"github.com/ngoclaw/scenegate/internal/domain/repository"
	"github.com/ngoclaw/scenegate/internal/domain/service"
	"github.com/ngoclaw/scenegate/internal/infrastructure/eventbus"
	"github.com/ngoclaw/scenegate/pkg/errors"
)

// ConversationUseCase is the entry point for conversation traffic coming
// from the HTTP and websocket surfaces. Writes go through the orchestrator;
// every accepted write is announced on the bus.
type ConversationUseCase struct {
	orch          *service.ReplyOrchestrator
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	bus           eventbus.Bus
	logger        *zap.Logger
}

// NewConversationUseCase creates the conversation use case.
func NewConversationUseCase(
	orch *service.ReplyOrchestrator,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	bus eventbus.Bus,
	logger *zap.Logger,
) *ConversationUseCase {
	return &ConversationUseCase{
		orch:          orch,
		conversations: conversations,
		messages:      messages,
		bus:           bus,
		logger:        logger.With(zap.String("component", "conversation_usecase")),
	}
}

// SendResult 用户消息处理结果
type SendResult struct {
	Message *entity.Message
	Reply   *service.ReplyHandle // nil when automated replies are disabled
}

// SendUserMessage appends a user message and requests a reply. tier may be
// empty for the configured default.
func (uc *ConversationUseCase) SendUserMessage(ctx context.Context, conversationID, content, tier string) (*SendResult, error) {
	var opts []service.ReplyOption
	if tier != "" {
		t, err := prompt.ParseTier(tier)
		if err != nil {
			return nil, errors.NewInvalidInputError(err.Error())
		}
		opts = append(opts, service.WithTier(t))
	}

	msg, handle, err := uc.orch.RequestReply(ctx, conversationID, content, opts...)
	if msg != nil {
		uc.publishMessage(ctx, msg)
	}
	if err != nil {
		if isValidation(err) {
			return nil, errors.NewInvalidInputError(err.Error())
		}
		// the message is stored even when the reply could not be scheduled
		return &SendResult{Message: msg, Reply: handle}, err
	}
	return &SendResult{Message: msg, Reply: handle}, nil
}

// SendAdminMessage appends an operator message without touching tasks.
func (uc *ConversationUseCase) SendAdminMessage(ctx context.Context, conversationID, content string) (*entity.Message, error) {
	msg, err := uc.orch.AppendAdminMessage(ctx, conversationID, content)
	if err != nil {
		if isValidation(err) {
			return nil, errors.NewInvalidInputError(err.Error())
		}
		return nil, err
	}
	uc.publishMessage(ctx, msg)
	return msg, nil
}

// SetAIEnabled toggles automated replies for the conversation.
func (uc *ConversationUseCase) SetAIEnabled(ctx context.Context, conversationID string, enabled bool) (*entity.Conversation, error) {
	conv, err := uc.orch.SetAIEnabled(ctx, conversationID, enabled)
	if err != nil {
		return nil, err
	}
	uc.bus.Publish(ctx, eventbus.NewEvent(eventbus.EventAIToggled, eventbus.ConversationPayload{
		ConversationID: conv.ID(),
		UserID:         conv.UserID(),
		AIEnabled:      conv.AIEnabled(),
		ScenarioSource: conv.ScenarioSource(),
	}))
	uc.logger.Info("Automated replies toggled",
		zap.String("conversation_id", conv.ID()),
		zap.Bool("enabled", enabled),
	)
	return conv, nil
}

// Conversation returns one conversation.
func (uc *ConversationUseCase) Conversation(ctx context.Context, id string) (*entity.Conversation, error) {
	return uc.conversations.FindByID(ctx, id)
}

// Messages returns a page of the conversation log in append order.
func (uc *ConversationUseCase) Messages(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error) {
	if _, err := uc.conversations.FindByID(ctx, conversationID); err != nil {
		return nil, 0, err
	}
	msgs, err := uc.messages.ListByConversation(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := uc.messages.Count(ctx, conversationID)
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

// Task returns a generation task.
func (uc *ConversationUseCase) Task(ctx context.Context, id string) (*entity.GenerationTask, error) {
	return uc.orch.Task(ctx, id)
}

// CancelTask cancels a task; cancelling a finished task is a no-op.
func (uc *ConversationUseCase) CancelTask(ctx context.Context, id string) (*entity.GenerationTask, bool, error) {
	return uc.orch.Cancel(ctx, id)
}

func (uc *ConversationUseCase) publishMessage(ctx context.Context, msg *entity.Message) {
	uc.bus.Publish(ctx, eventbus.NewEvent(eventbus.EventMessageAppended, MessagePayloadOf(msg)))
}

// MessagePayloadOf converts a message into its bus payload.
func MessagePayloadOf(msg *entity.Message) eventbus.MessagePayload {
	return eventbus.MessagePayload{
		ConversationID: msg.ConversationID(),
		MessageID:      msg.ID(),
		Seq:            msg.Seq(),
		Role:           string(msg.Role()),
		Content:        msg.Content(),
	}
}

func isValidation(err error) bool {
	switch {
	case errors.Is(err, entity.ErrEmptyContent),
		errors.Is(err, entity.ErrInvalidRole),
		errors.Is(err, entity.ErrInvalidConversationID):
		return true
	}
	return false
}
