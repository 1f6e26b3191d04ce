package repository

import (
	"context"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
)

// MessageRepository 消息仓储接口（只追加）
type MessageRepository interface {
	// Append 追加消息，分配会话内递增序号并返回带序号的消息
	Append(ctx context.Context, message *entity.Message) (*entity.Message, error)

	// FindByID 根据ID查找消息
	FindByID(ctx context.Context, id string) (*entity.Message, error)

	// ListByConversation 按追加顺序分页查询
	ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, error)

	// Recent 返回最近 n 条消息（按时间正序）
	Recent(ctx context.Context, conversationID string, n int) ([]*entity.Message, error)

	// Count 统计会话中的消息数量
	Count(ctx context.Context, conversationID string) (int64, error)
}
