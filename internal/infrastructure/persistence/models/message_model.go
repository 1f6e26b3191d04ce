package models

import (
	"time"
)

// MessageModel 数据库消息模型
// (conversation_id, seq) 唯一，seq 为会话内追加序号
type MessageModel struct {
	ID             string `gorm:"primaryKey;size:64"`
	ConversationID string `gorm:"uniqueIndex:idx_messages_conv_seq,priority:1;size:64;not null"`
	Seq            int64  `gorm:"uniqueIndex:idx_messages_conv_seq,priority:2;not null"`
	Role           string `gorm:"size:16;not null"` // user, assistant, admin
	Content        string `gorm:"type:text;not null"`
	CreatedAt      time.Time
}

// TableName 指定表名
func (MessageModel) TableName() string {
	return "messages"
}
