package repository

import (
	"context"
	"time"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
)

// TaskRepository 生成任务仓储接口
// 所有状态迁移都是条件写入：只有当前状态允许时才生效
type TaskRepository interface {
	// CreateIfIdle 在会话没有 pending/running 任务时创建任务，
	// 否则返回 entity.ErrConcurrencyViolation
	CreateIfIdle(ctx context.Context, task *entity.GenerationTask) error

	// FindByID 根据ID查找任务（包括已归档任务）
	FindByID(ctx context.Context, id string) (*entity.GenerationTask, error)

	// FindActive 返回会话当前的活动任务，没有时返回 nil
	FindActive(ctx context.Context, conversationID string) (*entity.GenerationTask, error)

	// Start pending → running，已取消时返回 entity.ErrTaskNotActive
	Start(ctx context.Context, id string) (*entity.GenerationTask, error)

	// Cancel 设置取消标记并返回取消前的状态；任务已终止时不产生影响
	Cancel(ctx context.Context, id string) (*entity.GenerationTask, entity.TaskStatus, error)

	// Fail 将活动任务标记为失败并返回失败前的状态；
	// 任务已终止时返回 entity.ErrTaskNotActive
	Fail(ctx context.Context, id, reason string) (*entity.GenerationTask, entity.TaskStatus, error)

	// CommitReply 原子地追加助手消息并完成任务，两者要么同时可见要么都不可见
	CommitReply(ctx context.Context, id string, reply *entity.Message) (*entity.GenerationTask, *entity.Message, error)

	// ArchiveTerminal 归档早于 before 的终态任务，返回归档数量
	ArchiveTerminal(ctx context.Context, before time.Time) (int64, error)

	// CountActive 统计会话的活动任务数量
	CountActive(ctx context.Context, conversationID string) (int64, error)
}
