package persistence

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
	"github.com/ngoclaw/scenegate/internal/domain/repository"
	"github.com/ngoclaw/scenegate/internal/infrastructure/persistence/models"
	domainErrors "github.com/ngoclaw/scenegate/pkg/errors"
)

// GormConversationRepository GORM 实现的会话仓储
type GormConversationRepository struct {
	db *gorm.DB
}

// NewGormConversationRepository 创建 GORM 会话仓储
func NewGormConversationRepository(db *gorm.DB) repository.ConversationRepository {
	return &GormConversationRepository{db: db}
}

// FindByID 根据ID查找会话
func (r *GormConversationRepository) FindByID(ctx context.Context, id string) (*entity.Conversation, error) {
	var model models.ConversationModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("conversation not found")
		}
		return nil, domainErrors.NewInternalError("failed to find conversation: " + err.Error())
	}
	return conversationToEntity(&model), nil
}

// FindByUserID 查找用户的会话
func (r *GormConversationRepository) FindByUserID(ctx context.Context, userID string) (*entity.Conversation, error) {
	var model models.ConversationModel
	if err := r.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("conversation not found")
		}
		return nil, domainErrors.NewInternalError("failed to find conversation: " + err.Error())
	}
	return conversationToEntity(&model), nil
}

// FindOrCreateByUser 首次接触时创建会话
func (r *GormConversationRepository) FindOrCreateByUser(ctx context.Context, userID, newID string) (*entity.Conversation, bool, error) {
	existing, err := r.FindByUserID(ctx, userID)
	if err == nil {
		return existing, false, nil
	}
	if !domainErrors.IsNotFound(err) {
		return nil, false, err
	}

	conv, err := entity.NewConversation(newID, userID)
	if err != nil {
		return nil, false, domainErrors.NewInvalidInputError(err.Error())
	}
	if err := r.db.WithContext(ctx).Create(conversationToModel(conv)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 并发首次接触：另一个写者已创建
			existing, findErr := r.FindByUserID(ctx, userID)
			return existing, false, findErr
		}
		return nil, false, domainErrors.NewInternalError("failed to create conversation: " + err.Error())
	}
	return conv, true, nil
}

// Save 保存会话（创建或更新）
func (r *GormConversationRepository) Save(ctx context.Context, conversation *entity.Conversation) error {
	if err := r.db.WithContext(ctx).Save(conversationToModel(conversation)).Error; err != nil {
		return domainErrors.NewInternalError("failed to save conversation: " + err.Error())
	}
	return nil
}

// UpdateScenario 仅更新场景列，条件与 Conversation.SetScenario 一致
func (r *GormConversationRepository) UpdateScenario(ctx context.Context, id, text, sourceResponseID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.ConversationModel{}).
		Where("id = ? AND (scenario_source <> ? OR scenario_text = '')", id, sourceResponseID).
		Updates(map[string]interface{}{
			"scenario_text":   text,
			"scenario_source": sourceResponseID,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return false, domainErrors.NewInternalError("failed to update scenario: " + res.Error.Error())
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	if _, err := r.FindByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// UpdateAIEnabled 仅更新自动回复开关列
func (r *GormConversationRepository) UpdateAIEnabled(ctx context.Context, id string, enabled bool) error {
	res := r.db.WithContext(ctx).Model(&models.ConversationModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"ai_enabled": enabled,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return domainErrors.NewInternalError("failed to update conversation: " + res.Error.Error())
	}
	if res.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("conversation not found")
	}
	return nil
}

// 转换方法

func conversationToModel(c *entity.Conversation) *models.ConversationModel {
	return &models.ConversationModel{
		ID:             c.ID(),
		UserID:         c.UserID(),
		ScenarioText:   c.ScenarioText(),
		ScenarioSource: c.ScenarioSource(),
		AIEnabled:      c.AIEnabled(),
		Active:         c.Active(),
		CreatedAt:      c.CreatedAt(),
		UpdatedAt:      c.UpdatedAt(),
	}
}

func conversationToEntity(m *models.ConversationModel) *entity.Conversation {
	return entity.ReconstructConversation(
		m.ID, m.UserID, m.ScenarioText, m.ScenarioSource,
		m.AIEnabled, m.Active,
		m.CreatedAt, m.UpdatedAt,
	)
}
