package models

import (
	"time"

	"gorm.io/gorm"
)

// TaskModel 数据库生成任务模型
// 终态任务归档时软删除；每个会话最多一个活动任务由部分唯一索引保证（见 db.go）
type TaskModel struct {
	ID             string `gorm:"primaryKey;size:64"`
	ConversationID string `gorm:"index;size:64;not null"`
	UserID         string `gorm:"size:128"`
	Status         string `gorm:"index;size:16;not null"`
	Cancelled      bool   `gorm:"not null;default:false"`
	FailureReason  string `gorm:"size:64"`
	ReplyMessageID string `gorm:"size:64"`
	CreatedAt      time.Time
	UpdatedAt      time.Time      `gorm:"index"`
	DeletedAt      gorm.DeletedAt `gorm:"index"`
}

// TableName 指定表名
func (TaskModel) TableName() string {
	return "generation_tasks"
}
