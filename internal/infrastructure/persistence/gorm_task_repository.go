package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
	"github.com/ngoclaw/scenegate/internal/domain/repository"
	"github.com/ngoclaw/scenegate/internal/infrastructure/persistence/models"
	domainErrors "github.com/ngoclaw/scenegate/pkg/errors"
)

var (
	activeStatuses   = []string{string(entity.TaskPending), string(entity.TaskRunning)}
	terminalStatuses = []string{string(entity.TaskCompleted), string(entity.TaskFailed), string(entity.TaskCancelled)}
)

// maxTransitionRetries bounds re-reads when a conditional update lost a race.
const maxTransitionRetries = 3

// GormTaskRepository GORM 实现的任务仓储
// 每次迁移都是带当前状态条件的 UPDATE，RowsAffected 为 0 表示竞争失败
type GormTaskRepository struct {
	db *gorm.DB
}

// NewGormTaskRepository 创建 GORM 任务仓储
func NewGormTaskRepository(db *gorm.DB) repository.TaskRepository {
	return &GormTaskRepository{db: db}
}

// CreateIfIdle 在会话空闲时创建任务
func (r *GormTaskRepository) CreateIfIdle(ctx context.Context, task *entity.GenerationTask) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&models.TaskModel{}).
			Where("conversation_id = ? AND status IN ?", task.ConversationID(), activeStatuses).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return entity.ErrConcurrencyViolation
		}
		return tx.Create(taskToModel(task)).Error
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, entity.ErrConcurrencyViolation), errors.Is(err, gorm.ErrDuplicatedKey):
		// 部分唯一索引兜底跨进程竞争
		return domainErrors.NewConflictError("conversation already has an active task", entity.ErrConcurrencyViolation)
	default:
		return domainErrors.NewInternalErrorWithCause("failed to create task", err)
	}
}

// FindByID 根据ID查找任务（包括已归档任务）
func (r *GormTaskRepository) FindByID(ctx context.Context, id string) (*entity.GenerationTask, error) {
	return r.findByID(r.db.WithContext(ctx).Unscoped(), id)
}

// FindActive 返回会话当前的活动任务
func (r *GormTaskRepository) FindActive(ctx context.Context, conversationID string) (*entity.GenerationTask, error) {
	var model models.TaskModel
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND status IN ?", conversationID, activeStatuses).
		Order("created_at desc").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, domainErrors.NewInternalError("failed to find active task: " + err.Error())
	}
	return taskToEntity(&model), nil
}

// Start pending → running
func (r *GormTaskRepository) Start(ctx context.Context, id string) (*entity.GenerationTask, error) {
	db := r.db.WithContext(ctx)
	res := db.Model(&models.TaskModel{}).
		Where("id = ? AND status = ? AND cancelled = ?", id, string(entity.TaskPending), false).
		Updates(map[string]interface{}{
			"status":     string(entity.TaskRunning),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, domainErrors.NewInternalError("failed to start task: " + res.Error.Error())
	}
	if res.RowsAffected == 0 {
		if _, err := r.findByID(db, id); err != nil {
			return nil, err
		}
		return nil, entity.ErrTaskNotActive
	}
	return r.findByID(db, id)
}

// Cancel 设置取消标记并迁移到 cancelled
func (r *GormTaskRepository) Cancel(ctx context.Context, id string) (*entity.GenerationTask, entity.TaskStatus, error) {
	db := r.db.WithContext(ctx)
	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		current, err := r.findByID(db, id)
		if err != nil {
			return nil, "", err
		}
		from := current.Status()
		if from.IsTerminal() {
			return current, from, nil
		}

		res := db.Model(&models.TaskModel{}).
			Where("id = ? AND status = ?", id, string(from)).
			Updates(map[string]interface{}{
				"status":     string(entity.TaskCancelled),
				"cancelled":  true,
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return nil, "", domainErrors.NewInternalError("failed to cancel task: " + res.Error.Error())
		}
		if res.RowsAffected == 1 {
			cancelled, err := r.findByID(db, id)
			return cancelled, from, err
		}
	}
	return nil, "", domainErrors.NewConflictError("task changed concurrently", entity.ErrTaskNotActive)
}

// Fail 将活动任务标记为失败
func (r *GormTaskRepository) Fail(ctx context.Context, id, reason string) (*entity.GenerationTask, entity.TaskStatus, error) {
	db := r.db.WithContext(ctx)
	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		current, err := r.findByID(db, id)
		if err != nil {
			return nil, "", err
		}
		from := current.Status()
		if from.IsTerminal() {
			return nil, from, entity.ErrTaskNotActive
		}

		res := db.Model(&models.TaskModel{}).
			Where("id = ? AND status = ?", id, string(from)).
			Updates(map[string]interface{}{
				"status":         string(entity.TaskFailed),
				"failure_reason": reason,
				"updated_at":     time.Now().UTC(),
			})
		if res.Error != nil {
			return nil, "", domainErrors.NewInternalError("failed to fail task: " + res.Error.Error())
		}
		if res.RowsAffected == 1 {
			failed, err := r.findByID(db, id)
			return failed, from, err
		}
	}
	return nil, "", domainErrors.NewConflictError("task changed concurrently", entity.ErrTaskNotActive)
}

// CommitReply 原子地追加助手消息并完成任务
func (r *GormTaskRepository) CommitReply(ctx context.Context, id string, reply *entity.Message) (*entity.GenerationTask, *entity.Message, error) {
	var committed *entity.Message
	var err error
	for attempt := 0; attempt < maxSeqRetries; attempt++ {
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.TaskModel{}).
				Where("id = ? AND status = ? AND cancelled = ?", id, string(entity.TaskRunning), false).
				Updates(map[string]interface{}{
					"status":           string(entity.TaskCompleted),
					"reply_message_id": reply.ID(),
					"updated_at":       time.Now().UTC(),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return entity.ErrTaskNotActive
			}

			msg, txErr := appendMessageTx(tx, reply)
			if txErr != nil {
				return txErr
			}
			committed = msg
			return nil
		})
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
	}

	if err != nil {
		if errors.Is(err, entity.ErrTaskNotActive) {
			return nil, nil, entity.ErrTaskNotActive
		}
		return nil, nil, domainErrors.NewInternalErrorWithCause("failed to commit reply", err)
	}

	task, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return task, committed, nil
}

// ArchiveTerminal 软删除早于 before 的终态任务
func (r *GormTaskRepository) ArchiveTerminal(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", terminalStatuses, before).
		Delete(&models.TaskModel{})
	if res.Error != nil {
		return 0, domainErrors.NewInternalError("failed to archive tasks: " + res.Error.Error())
	}
	return res.RowsAffected, nil
}

// CountActive 统计会话的活动任务数量
func (r *GormTaskRepository) CountActive(ctx context.Context, conversationID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.TaskModel{}).
		Where("conversation_id = ? AND status IN ?", conversationID, activeStatuses).
		Count(&count).Error
	if err != nil {
		return 0, domainErrors.NewInternalError("failed to count tasks: " + err.Error())
	}
	return count, nil
}

func (r *GormTaskRepository) findByID(db *gorm.DB, id string) (*entity.GenerationTask, error) {
	var model models.TaskModel
	if err := db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError(fmt.Sprintf("task %s not found", id))
		}
		return nil, domainErrors.NewInternalError("failed to find task: " + err.Error())
	}
	return taskToEntity(&model), nil
}

// 转换方法

func taskToModel(t *entity.GenerationTask) *models.TaskModel {
	return &models.TaskModel{
		ID:             t.ID(),
		ConversationID: t.ConversationID(),
		UserID:         t.UserID(),
		Status:         string(t.Status()),
		Cancelled:      t.Cancelled(),
		FailureReason:  t.FailureReason(),
		ReplyMessageID: t.ReplyMessageID(),
		CreatedAt:      t.CreatedAt(),
		UpdatedAt:      t.UpdatedAt(),
	}
}

func taskToEntity(m *models.TaskModel) *entity.GenerationTask {
	return entity.ReconstructGenerationTask(
		m.ID, m.ConversationID, m.UserID,
		entity.TaskStatus(m.Status),
		m.Cancelled,
		m.FailureReason, m.ReplyMessageID,
		m.CreatedAt, m.UpdatedAt,
	)
}
