package repository

import (
	"context"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
)

// FormRepository 表单提交仓储接口
type FormRepository interface {
	// Save 保存提交；提交不可变，同一 response id 再次保存返回 AlreadyExists
	Save(ctx context.Context, form *entity.FormSubmission) error

	// FindByResponseID 根据 response id 查找
	FindByResponseID(ctx context.Context, responseID string) (*entity.FormSubmission, error)

	// LatestByUser 返回用户最近一次提交
	LatestByUser(ctx context.Context, userID string) (*entity.FormSubmission, error)
}
