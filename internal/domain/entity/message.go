package entity

import (
	"strings"
	"time"
)

// Role 消息作者角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleAdmin     Role = "admin"
)

// Valid 判断角色是否合法
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleAdmin:
		return true
	}
	return false
}

// Message 消息实体（创建后不可变）
type Message struct {
	id             string
	conversationID string
	seq            int64
	role           Role
	content        string
	createdAt      time.Time
}

// NewMessage 创建新消息（工厂方法）
// seq 由存储层在追加时分配
func NewMessage(id, conversationID string, role Role, content string) (*Message, error) {
	if id == "" {
		return nil, ErrInvalidMessageID
	}
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	return &Message{
		id:             id,
		conversationID: conversationID,
		role:           role,
		content:        content,
		createdAt:      time.Now().UTC(),
	}, nil
}

// ReconstructMessage 重建消息（用于从持久化层恢复）
func ReconstructMessage(id, conversationID string, seq int64, role Role, content string, createdAt time.Time) *Message {
	return &Message{
		id:             id,
		conversationID: conversationID,
		seq:            seq,
		role:           role,
		content:        content,
		createdAt:      createdAt,
	}
}

// WithSeq returns a copy carrying the append sequence assigned by the store.
func (m *Message) WithSeq(seq int64) *Message {
	cp := *m
	cp.seq = seq
	return &cp
}

// ID 返回消息ID
func (m *Message) ID() string {
	return m.id
}

// ConversationID 返回会话ID
func (m *Message) ConversationID() string {
	return m.conversationID
}

// Seq 返回会话内追加序号
func (m *Message) Seq() int64 {
	return m.seq
}

// Role 返回作者角色
func (m *Message) Role() Role {
	return m.role
}

// Content 返回消息内容
func (m *Message) Content() string {
	return m.content
}

// CreatedAt 返回创建时间
func (m *Message) CreatedAt() time.Time {
	return m.createdAt
}

// IsFromAdmin 判断是否为运营人员插话
func (m *Message) IsFromAdmin() bool {
	return m.role == RoleAdmin
}
