package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
	"github.com/ngoclaw/scenegate/internal/domain/repository"
	"github.com/ngoclaw/scenegate/internal/infrastructure/persistence/models"
	domainErrors "github.com/ngoclaw/scenegate/pkg/errors"
)

// GormProfileRepository GORM 实现的提示词配置仓储
// 激活状态只存在于 active_profile 单行表中
type GormProfileRepository struct {
	db *gorm.DB
}

// NewGormProfileRepository 创建 GORM 配置仓储
func NewGormProfileRepository(db *gorm.DB) repository.ProfileRepository {
	return &GormProfileRepository{db: db}
}

// Save 保存配置（创建或更新）
func (r *GormProfileRepository) Save(ctx context.Context, profile *entity.SystemPromptProfile) error {
	if err := r.db.WithContext(ctx).Save(profileToModel(profile)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domainErrors.NewAlreadyExistsError("profile name already in use: " + profile.Name())
		}
		return domainErrors.NewInternalError("failed to save profile: " + err.Error())
	}
	return nil
}

// FindByID 根据ID查找配置
func (r *GormProfileRepository) FindByID(ctx context.Context, id string) (*entity.SystemPromptProfile, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByName 根据名称查找配置
func (r *GormProfileRepository) FindByName(ctx context.Context, name string) (*entity.SystemPromptProfile, error) {
	return r.findOne(ctx, "name = ?", name)
}

// List 列出全部配置
func (r *GormProfileRepository) List(ctx context.Context) ([]*entity.SystemPromptProfile, error) {
	var rows []models.ProfileModel
	if err := r.db.WithContext(ctx).Order("name asc").Find(&rows).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to list profiles: " + err.Error())
	}
	activeID, err := r.activeID(r.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	out := make([]*entity.SystemPromptProfile, 0, len(rows))
	for i := range rows {
		out = append(out, profileToEntity(&rows[i], rows[i].ID == activeID))
	}
	return out, nil
}

// Active 返回当前激活的配置
func (r *GormProfileRepository) Active(ctx context.Context) (*entity.SystemPromptProfile, error) {
	activeID, err := r.activeID(r.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if activeID == "" {
		return nil, entity.ErrNoActiveProfile
	}
	return r.FindByID(ctx, activeID)
}

// Activate 在一个事务内校验目标并改写激活指针
func (r *GormProfileRepository) Activate(ctx context.Context, id string) (*entity.SystemPromptProfile, error) {
	var activated *entity.SystemPromptProfile
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model models.ProfileModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			return err
		}
		pointer := models.ActiveProfileModel{
			ID:        models.ActiveProfileSingletonID,
			ProfileID: id,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"profile_id", "updated_at"}),
		}).Create(&pointer).Error; err != nil {
			return err
		}
		activated = profileToEntity(&model, true)
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("profile not found")
		}
		return nil, domainErrors.NewInternalError("failed to activate profile: " + err.Error())
	}
	return activated, nil
}

func (r *GormProfileRepository) findOne(ctx context.Context, query string, arg string) (*entity.SystemPromptProfile, error) {
	db := r.db.WithContext(ctx)
	var model models.ProfileModel
	if err := db.First(&model, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("profile not found")
		}
		return nil, domainErrors.NewInternalError("failed to find profile: " + err.Error())
	}
	activeID, err := r.activeID(db)
	if err != nil {
		return nil, err
	}
	return profileToEntity(&model, model.ID == activeID), nil
}

func (r *GormProfileRepository) activeID(db *gorm.DB) (string, error) {
	var pointer models.ActiveProfileModel
	err := db.First(&pointer, "id = ?", models.ActiveProfileSingletonID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", domainErrors.NewInternalError("failed to read active profile: " + err.Error())
	}
	return pointer.ProfileID, nil
}

// 转换方法

func profileToModel(p *entity.SystemPromptProfile) *models.ProfileModel {
	return &models.ProfileModel{
		ID:        p.ID(),
		Name:      p.Name(),
		HeadText:  p.HeadText(),
		RuleText:  p.RuleText(),
		CreatedAt: p.CreatedAt(),
		UpdatedAt: p.UpdatedAt(),
	}
}

func profileToEntity(m *models.ProfileModel, active bool) *entity.SystemPromptProfile {
	return entity.ReconstructSystemPromptProfile(
		m.ID, m.Name, m.HeadText, m.RuleText,
		active,
		m.CreatedAt, m.UpdatedAt,
	)
}
