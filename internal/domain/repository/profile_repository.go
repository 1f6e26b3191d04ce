package repository

import (
	"context"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
)

// ProfileRepository 系统提示词配置仓储接口
type ProfileRepository interface {
	// Save 保存配置（创建或更新），不改变激活指针
	Save(ctx context.Context, profile *entity.SystemPromptProfile) error

	// FindByID 根据ID查找配置
	FindByID(ctx context.Context, id string) (*entity.SystemPromptProfile, error)

	// FindByName 根据名称查找配置
	FindByName(ctx context.Context, name string) (*entity.SystemPromptProfile, error)

	// List 列出全部配置
	List(ctx context.Context) ([]*entity.SystemPromptProfile, error)

	// Active 返回当前激活的配置，没有时返回 entity.ErrNoActiveProfile
	Active(ctx context.Context) (*entity.SystemPromptProfile, error)

	// Activate 单写者切换：一次写入替换激活指针，不存在零个或两个激活的窗口
	Activate(ctx context.Context, id string) (*entity.SystemPromptProfile, error)
}
