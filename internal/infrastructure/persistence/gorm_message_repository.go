package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
	"github.com/ngoclaw/scenegate/internal/domain/repository"
	"github.com/ngoclaw/scenegate/internal/infrastructure/persistence/models"
	domainErrors "github.com/ngoclaw/scenegate/pkg/errors"
)

// maxSeqRetries bounds retries when another writer took the same seq.
const maxSeqRetries = 3

// GormMessageRepository GORM 实现的消息仓储
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建 GORM 消息仓储
func NewGormMessageRepository(db *gorm.DB) repository.MessageRepository {
	return &GormMessageRepository{
		db: db,
	}
}

// Append 追加消息，分配会话内序号
func (r *GormMessageRepository) Append(ctx context.Context, message *entity.Message) (*entity.Message, error) {
	var appended *entity.Message
	var err error
	for attempt := 0; attempt < maxSeqRetries; attempt++ {
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			appended, err = appendMessageTx(tx, message)
			return err
		})
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
	}
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to append message", err)
	}
	return appended, nil
}

// FindByID 根据ID查找消息
func (r *GormMessageRepository) FindByID(ctx context.Context, id string) (*entity.Message, error) {
	var model models.MessageModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("message not found")
		}
		return nil, domainErrors.NewInternalError("failed to find message: " + err.Error())
	}
	return messageToEntity(&model), nil
}

// ListByConversation 按追加顺序分页查询
func (r *GormMessageRepository) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, error) {
	var rows []models.MessageModel
	q := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq asc").
		Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to find messages: " + err.Error())
	}
	return messagesToEntities(rows), nil
}

// Recent 返回最近 n 条消息（按时间正序）
func (r *GormMessageRepository) Recent(ctx context.Context, conversationID string, n int) ([]*entity.Message, error) {
	if n <= 0 {
		return []*entity.Message{}, nil
	}
	var rows []models.MessageModel
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq desc").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to find recent messages: " + err.Error())
	}

	// 翻转为正序
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return messagesToEntities(rows), nil
}

// Count 统计会话中的消息数量
func (r *GormMessageRepository) Count(ctx context.Context, conversationID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.MessageModel{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error

	if err != nil {
		return 0, domainErrors.NewInternalError("failed to count messages: " + err.Error())
	}
	return count, nil
}

// appendMessageTx 在事务内分配 seq 并插入
func appendMessageTx(tx *gorm.DB, message *entity.Message) (*entity.Message, error) {
	var maxSeq int64
	err := tx.Model(&models.MessageModel{}).
		Where("conversation_id = ?", message.ConversationID()).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&maxSeq).Error
	if err != nil {
		return nil, err
	}

	appended := message.WithSeq(maxSeq + 1)
	if err := tx.Create(messageToModel(appended)).Error; err != nil {
		return nil, err
	}
	return appended, nil
}

// 转换方法

func messageToModel(m *entity.Message) *models.MessageModel {
	return &models.MessageModel{
		ID:             m.ID(),
		ConversationID: m.ConversationID(),
		Seq:            m.Seq(),
		Role:           string(m.Role()),
		Content:        m.Content(),
		CreatedAt:      m.CreatedAt(),
	}
}

func messageToEntity(model *models.MessageModel) *entity.Message {
	return entity.ReconstructMessage(
		model.ID,
		model.ConversationID,
		model.Seq,
		entity.Role(model.Role),
		model.Content,
		model.CreatedAt,
	)
}

func messagesToEntities(rows []models.MessageModel) []*entity.Message {
	out := make([]*entity.Message, 0, len(rows))
	for i := range rows {
		out = append(out, messageToEntity(&rows[i]))
	}
	return out
}
