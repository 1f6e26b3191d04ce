package application

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/ngoclaw/scenegate/internal/domain/repository"
	"github.com/ngoclaw/scenegate/internal/infrastructure/config"
	"github.com/ngoclaw/scenegate/internal/infrastructure/persistence"
)

// Repositories 仓储集合，按 database.type 选择 gorm 或内存实现
type Repositories struct {
	Conversations repository.ConversationRepository
	Messages      repository.MessageRepository
	Tasks         repository.TaskRepository
	Profiles      repository.ProfileRepository
	Forms         repository.FormRepository

	db *gorm.DB
}

// OpenRepositories 打开仓储；memory 类型不落盘，重启即丢失
func OpenRepositories(cfg *config.DatabaseConfig) (*Repositories, error) {
	if cfg.Type == "memory" {
		store := persistence.NewMemoryStore()
		return &Repositories{
			Conversations: store.Conversations(),
			Messages:      store.Messages(),
			Tasks:         store.Tasks(),
			Profiles:      store.Profiles(),
			Forms:         store.Forms(),
		}, nil
	}

	db, err := persistence.NewDBConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Type, err)
	}
	return &Repositories{
		Conversations: persistence.NewGormConversationRepository(db),
		Messages:      persistence.NewGormMessageRepository(db),
		Tasks:         persistence.NewGormTaskRepository(db),
		Profiles:      persistence.NewGormProfileRepository(db),
		Forms:         persistence.NewGormFormRepository(db),
		db:            db,
	}, nil
}

// Persistent 是否落盘
func (r *Repositories) Persistent() bool { return r.db != nil }

// Ping 检查数据库连接
func (r *Repositories) Ping() bool {
	if r.db == nil {
		return true
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return false
	}
	return sqlDB.Ping() == nil
}

// Close 关闭数据库连接
func (r *Repositories) Close() error {
	if r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
