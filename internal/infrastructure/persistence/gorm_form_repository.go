package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
	"github.com/ngoclaw/scenegate/internal/domain/repository"
	"github.com/ngoclaw/scenegate/internal/infrastructure/persistence/models"
	domainErrors "github.com/ngoclaw/scenegate/pkg/errors"
)

// GormFormRepository GORM 实现的表单提交仓储
type GormFormRepository struct {
	db *gorm.DB
}

// NewGormFormRepository 创建 GORM 表单仓储
func NewGormFormRepository(db *gorm.DB) repository.FormRepository {
	return &GormFormRepository{db: db}
}

// answerJSON 答案的持久化格式
type answerJSON struct {
	Kind    string   `json:"kind"`
	Text    string   `json:"text,omitempty"`
	Choices []string `json:"choices,omitempty"`
}

// Save 保存提交（不可变，重复返回 AlreadyExists）
func (r *GormFormRepository) Save(ctx context.Context, form *entity.FormSubmission) error {
	model, err := formToModel(form)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domainErrors.NewAlreadyExistsError("form submission already stored: " + form.ResponseID())
		}
		return domainErrors.NewInternalError("failed to save form submission: " + err.Error())
	}
	return nil
}

// FindByResponseID 根据 response id 查找
func (r *GormFormRepository) FindByResponseID(ctx context.Context, responseID string) (*entity.FormSubmission, error) {
	var model models.FormSubmissionModel
	if err := r.db.WithContext(ctx).First(&model, "response_id = ?", responseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("form submission not found")
		}
		return nil, domainErrors.NewInternalError("failed to find form submission: " + err.Error())
	}
	return formToEntity(&model)
}

// LatestByUser 返回用户最近一次提交
func (r *GormFormRepository) LatestByUser(ctx context.Context, userID string) (*entity.FormSubmission, error) {
	var model models.FormSubmissionModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("submitted_at desc").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("form submission not found")
		}
		return nil, domainErrors.NewInternalError("failed to find form submission: " + err.Error())
	}
	return formToEntity(&model)
}

// 转换方法

func formToModel(f *entity.FormSubmission) (*models.FormSubmissionModel, error) {
	answers := make(map[string]answerJSON)
	for field, a := range f.Answers() {
		answers[field] = answerJSON{Kind: string(a.Kind), Text: a.Text, Choices: a.Choices}
	}
	data, err := json.Marshal(answers)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to marshal answers: " + err.Error())
	}
	return &models.FormSubmissionModel{
		ResponseID:  f.ResponseID(),
		UserID:      f.UserID(),
		Answers:     string(data),
		SubmittedAt: f.SubmittedAt(),
	}, nil
}

func formToEntity(m *models.FormSubmissionModel) (*entity.FormSubmission, error) {
	var raw map[string]answerJSON
	if err := json.Unmarshal([]byte(m.Answers), &raw); err != nil {
		return nil, domainErrors.NewInternalError("failed to unmarshal answers: " + err.Error())
	}
	answers := make(map[string]entity.FormAnswer, len(raw))
	for field, a := range raw {
		answers[field] = entity.FormAnswer{Kind: entity.AnswerKind(a.Kind), Text: a.Text, Choices: a.Choices}
	}
	form, err := entity.NewFormSubmission(m.ResponseID, m.UserID, answers, m.SubmittedAt)
	if err != nil {
		return nil, domainErrors.NewInternalError("corrupt form submission: " + err.Error())
	}
	return form, nil
}
