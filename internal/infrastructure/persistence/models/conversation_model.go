package models

import "time"

// ConversationModel 数据库会话模型，每个用户一条
type ConversationModel struct {
	ID             string `gorm:"primaryKey;size:64"`
	UserID         string `gorm:"uniqueIndex;size:128;not null"`
	ScenarioText   string `gorm:"type:text"`
	ScenarioSource string `gorm:"size:128"`
	AIEnabled      bool   `gorm:"not null"`
	Active         bool   `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName 指定表名
func (ConversationModel) TableName() string {
	return "conversations"
}
