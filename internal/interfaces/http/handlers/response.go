package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
	"github.com/ngoclaw/scenegate/internal/domain/prompt"
	"github.com/ngoclaw/scenegate/pkg/errors"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// StatusOf 错误到 HTTP 状态码的映射
func StatusOf(err error) int {
	switch {
	case errors.Is(err, prompt.ErrBudgetExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, entity.ErrNoActiveProfile):
		return http.StatusServiceUnavailable
	case errors.Is(err, entity.ErrConcurrencyViolation):
		return http.StatusConflict
	}
	switch errors.CodeOf(err) {
	case errors.CodeInvalidInput:
		return http.StatusBadRequest
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeAlreadyExists, errors.CodeConflict:
		return http.StatusConflict
	case errors.CodeServiceUnavail:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	code := string(errors.CodeOf(err))
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.JSON(status, ErrorResponse{Code: code, Error: msg})
}

// ConversationResponse 会话响应
type ConversationResponse struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ScenarioText   string    `json:"scenario_text"`
	ScenarioSource string    `json:"scenario_source,omitempty"`
	AIEnabled      bool      `json:"ai_enabled"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toConversationResponse(c *entity.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:             c.ID(),
		UserID:         c.UserID(),
		ScenarioText:   c.ScenarioText(),
		ScenarioSource: c.ScenarioSource(),
		AIEnabled:      c.AIEnabled(),
		Active:         c.Active(),
		CreatedAt:      c.CreatedAt(),
		UpdatedAt:      c.UpdatedAt(),
	}
}

// MessageResponse 消息响应
type MessageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Seq            int64     `json:"seq"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

func toMessageResponse(m *entity.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID(),
		ConversationID: m.ConversationID(),
		Seq:            m.Seq(),
		Role:           string(m.Role()),
		Content:        m.Content(),
		CreatedAt:      m.CreatedAt(),
	}
}

// TaskResponse 生成任务响应
type TaskResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Status         string    `json:"status"`
	Cancelled      bool      `json:"cancelled"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	ReplyMessageID string    `json:"reply_message_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toTaskResponse(t *entity.GenerationTask) TaskResponse {
	return TaskResponse{
		ID:             t.ID(),
		ConversationID: t.ConversationID(),
		Status:         string(t.Status()),
		Cancelled:      t.Cancelled(),
		FailureReason:  t.FailureReason(),
		ReplyMessageID: t.ReplyMessageID(),
		CreatedAt:      t.CreatedAt(),
		UpdatedAt:      t.UpdatedAt(),
	}
}

// ProfileResponse 提示词配置响应
type ProfileResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	HeadText  string    `json:"head_text"`
	RuleText  string    `json:"rule_text"`
	IsActive  bool      `json:"is_active"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toProfileResponse(p *entity.SystemPromptProfile) ProfileResponse {
	return ProfileResponse{
		ID:        p.ID(),
		Name:      p.Name(),
		HeadText:  p.HeadText(),
		RuleText:  p.RuleText(),
		IsActive:  p.IsActive(),
		UpdatedAt: p.UpdatedAt(),
	}
}
