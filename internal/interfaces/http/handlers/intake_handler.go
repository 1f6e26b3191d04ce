package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/application/usecase"
)

// IntakeHandler 表单接入处理器
type IntakeHandler struct {
	intake *usecase.IntakeUseCase
	logger *zap.Logger
}

func NewIntakeHandler(uc *usecase.IntakeUseCase, logger *zap.Logger) *IntakeHandler {
	return &IntakeHandler{intake: uc, logger: logger}
}

type IntakeResponse struct {
	Conversation    ConversationResponse `json:"conversation"`
	Created         bool                 `json:"created"`
	ScenarioChanged bool                 `json:"scenario_changed"`
	Duplicate       bool                 `json:"duplicate"`
	Degraded        []string             `json:"degraded,omitempty"`
}

// Submit POST /api/v1/intake
func (h *IntakeHandler) Submit(c *gin.Context) {
	var req usecase.IntakeInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_INPUT", Error: err.Error()})
		return
	}

	res, err := h.intake.IngestSubmission(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, IntakeResponse{
		Conversation:    toConversationResponse(res.Conversation),
		Created:         res.Created,
		ScenarioChanged: res.ScenarioChanged,
		Duplicate:       res.Duplicate,
		Degraded:        res.Scenario.Degraded,
	})
}
