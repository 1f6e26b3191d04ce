package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/application/usecase"
)

// MessageHandler serves conversation, message and task endpoints.
type MessageHandler struct {
	conversations *usecase.ConversationUseCase
	logger        *zap.Logger
}

func NewMessageHandler(uc *usecase.ConversationUseCase, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{
		conversations: uc,
		logger:        logger,
	}
}

type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
	Tier    string `json:"tier"`
}

type SendMessageResponse struct {
	Message     MessageResponse `json:"message"`
	TaskID      string          `json:"task_id,omitempty"`
	Superseded  string          `json:"superseded_task_id,omitempty"`
	Tier        string          `json:"tier,omitempty"`
	PromptStats any             `json:"prompt_stats,omitempty"`
	Error       string          `json:"error,omitempty"`
}

type SetAIRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// GetConversation GET /api/v1/conversations/:id
func (h *MessageHandler) GetConversation(c *gin.Context) {
	conv, err := h.conversations.Conversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toConversationResponse(conv))
}

// ListMessages GET /api/v1/conversations/:id/messages?limit=&offset=
func (h *MessageHandler) ListMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	msgs, total, err := h.conversations.Messages(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": out,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// SendMessage POST /api/v1/conversations/:id/messages
//
// The user message is stored even when the reply cannot be scheduled; in
// that case the response is 201 with the failed task id and an error.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_INPUT", Error: err.Error()})
		return
	}

	res, err := h.conversations.SendUserMessage(c.Request.Context(), c.Param("id"), req.Content, req.Tier)
	if err != nil && (res == nil || res.Message == nil) {
		respondError(c, h.logger, err)
		return
	}

	resp := SendMessageResponse{Message: toMessageResponse(res.Message)}
	if res.Reply != nil {
		resp.TaskID = res.Reply.TaskID
		resp.Superseded = res.Reply.Superseded
		resp.Tier = string(res.Reply.Tier)
		if res.Reply.PromptStats.Total > 0 {
			resp.PromptStats = res.Reply.PromptStats
		}
	}
	if err != nil {
		h.logger.Warn("Reply not scheduled", zap.String("conversation_id", c.Param("id")), zap.Error(err))
		resp.Error = err.Error()
		c.JSON(http.StatusCreated, resp)
		return
	}
	if res.Reply != nil {
		c.JSON(http.StatusAccepted, resp)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// SendAdminMessage POST /api/v1/conversations/:id/admin-messages
func (h *MessageHandler) SendAdminMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_INPUT", Error: err.Error()})
		return
	}
	msg, err := h.conversations.SendAdminMessage(c.Request.Context(), c.Param("id"), req.Content)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, toMessageResponse(msg))
}

// SetAI PUT /api/v1/conversations/:id/ai
func (h *MessageHandler) SetAI(c *gin.Context) {
	var req SetAIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_INPUT", Error: err.Error()})
		return
	}
	conv, err := h.conversations.SetAIEnabled(c.Request.Context(), c.Param("id"), *req.Enabled)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toConversationResponse(conv))
}

// GetTask GET /api/v1/tasks/:id
func (h *MessageHandler) GetTask(c *gin.Context) {
	task, err := h.conversations.Task(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(task))
}

// CancelTask DELETE /api/v1/tasks/:id
func (h *MessageHandler) CancelTask(c *gin.Context) {
	task, changed, err := h.conversations.CancelTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"task":      toTaskResponse(task),
		"cancelled": changed,
	})
}
