package entity

import (
	"strings"
	"time"
)

// SystemPromptProfile 系统提示词配置
// HeadText 在场景之前，RuleText 在场景之后。IsActive 由存储层的唯一激活指针推导，
// 不按行单独写入
type SystemPromptProfile struct {
	id        string
	name      string
	headText  string
	ruleText  string
	isActive  bool
	createdAt time.Time
	updatedAt time.Time
}

// NewSystemPromptProfile 创建提示词配置
func NewSystemPromptProfile(id, name, headText, ruleText string) (*SystemPromptProfile, error) {
	if id == "" {
		return nil, ErrInvalidProfileID
	}
	if strings.TrimSpace(name) == "" {
		return nil, ErrInvalidProfileName
	}

	now := time.Now().UTC()
	return &SystemPromptProfile{
		id:        id,
		name:      strings.TrimSpace(name),
		headText:  strings.TrimSpace(headText),
		ruleText:  strings.TrimSpace(ruleText),
		createdAt: now,
		updatedAt: now,
	}, nil
}

// ReconstructSystemPromptProfile 重建配置（用于从持久化层恢复）
func ReconstructSystemPromptProfile(id, name, headText, ruleText string, isActive bool, createdAt, updatedAt time.Time) *SystemPromptProfile {
	return &SystemPromptProfile{
		id:        id,
		name:      name,
		headText:  headText,
		ruleText:  ruleText,
		isActive:  isActive,
		createdAt: createdAt,
		updatedAt: updatedAt,
	}
}

func (p *SystemPromptProfile) ID() string           { return p.id }
func (p *SystemPromptProfile) Name() string         { return p.name }
func (p *SystemPromptProfile) HeadText() string     { return p.headText }
func (p *SystemPromptProfile) RuleText() string     { return p.ruleText }
func (p *SystemPromptProfile) IsActive() bool       { return p.isActive }
func (p *SystemPromptProfile) CreatedAt() time.Time { return p.createdAt }
func (p *SystemPromptProfile) UpdatedAt() time.Time { return p.updatedAt }

// WithActive returns a copy flagged with the store's view of activation.
func (p *SystemPromptProfile) WithActive(active bool) *SystemPromptProfile {
	cp := *p
	cp.isActive = active
	return &cp
}

// UpdateText 修改提示词正文
func (p *SystemPromptProfile) UpdateText(headText, ruleText string) {
	p.headText = strings.TrimSpace(headText)
	p.ruleText = strings.TrimSpace(ruleText)
	p.updatedAt = time.Now().UTC()
}
