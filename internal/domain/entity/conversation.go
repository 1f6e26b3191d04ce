package entity

import "time"

// Conversation 会话聚合根
// 每个用户首次接触时创建，消息日志只追加不改写
type Conversation struct {
	id             string
	userID         string
	scenarioText   string
	scenarioSource string
	aiEnabled      bool
	active         bool
	createdAt      time.Time
	updatedAt      time.Time
}

// NewConversation 创建新会话，默认开启自动回复
func NewConversation(id, userID string) (*Conversation, error) {
	if id == "" {
		return nil, ErrInvalidConversationID
	}
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	now := time.Now().UTC()
	return &Conversation{
		id:        id,
		userID:    userID,
		aiEnabled: true,
		active:    true,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// ReconstructConversation 重建会话（用于从持久化层恢复）
func ReconstructConversation(
	id, userID, scenarioText, scenarioSource string,
	aiEnabled, active bool,
	createdAt, updatedAt time.Time,
) *Conversation {
	return &Conversation{
		id:             id,
		userID:         userID,
		scenarioText:   scenarioText,
		scenarioSource: scenarioSource,
		aiEnabled:      aiEnabled,
		active:         active,
		createdAt:      createdAt,
		updatedAt:      updatedAt,
	}
}

func (c *Conversation) ID() string             { return c.id }
func (c *Conversation) UserID() string         { return c.userID }
func (c *Conversation) ScenarioText() string   { return c.scenarioText }
func (c *Conversation) ScenarioSource() string { return c.scenarioSource }
func (c *Conversation) AIEnabled() bool        { return c.aiEnabled }
func (c *Conversation) Active() bool           { return c.active }
func (c *Conversation) CreatedAt() time.Time   { return c.createdAt }
func (c *Conversation) UpdatedAt() time.Time   { return c.updatedAt }

// SetScenario caches the synthesized scenario. It reports false when the
// scenario already came from the same form response and nothing changed.
func (c *Conversation) SetScenario(text, sourceResponseID string) bool {
	if c.scenarioSource == sourceResponseID && c.scenarioText != "" {
		return false
	}
	c.scenarioText = text
	c.scenarioSource = sourceResponseID
	c.updatedAt = time.Now().UTC()
	return true
}

// SetAIEnabled 切换自动回复开关
func (c *Conversation) SetAIEnabled(enabled bool) {
	c.aiEnabled = enabled
	c.updatedAt = time.Now().UTC()
}

// Deactivate 关闭会话
func (c *Conversation) Deactivate() {
	c.active = false
	c.updatedAt = time.Now().UTC()
}
