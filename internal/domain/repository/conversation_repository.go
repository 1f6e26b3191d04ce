package repository

import (
	"context"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
)

// ConversationRepository 会话仓储接口
type ConversationRepository interface {
	// FindByID 根据ID查找会话
	FindByID(ctx context.Context, id string) (*entity.Conversation, error)

	// FindByUserID 查找用户的会话
	FindByUserID(ctx context.Context, userID string) (*entity.Conversation, error)

	// FindOrCreateByUser 首次接触时创建会话，newID 仅在创建时使用
	FindOrCreateByUser(ctx context.Context, userID, newID string) (*entity.Conversation, bool, error)

	// Save 保存会话（创建或更新）
	Save(ctx context.Context, conversation *entity.Conversation) error

	// UpdateScenario 仅更新场景列；来源响应未变化时返回 false
	UpdateScenario(ctx context.Context, id, text, sourceResponseID string) (bool, error)

	// UpdateAIEnabled 仅更新自动回复开关列
	UpdateAIEnabled(ctx context.Context, id string, enabled bool) error
}
