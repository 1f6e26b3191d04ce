package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/application/usecase"
)

// ProfileHandler 提示词配置管理处理器
type ProfileHandler struct {
	profiles *usecase.ProfileUseCase
	logger   *zap.Logger
}

func NewProfileHandler(uc *usecase.ProfileUseCase, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: uc, logger: logger}
}

type SaveProfileRequest struct {
	Name     string `json:"name" binding:"required"`
	Head     string `json:"head"`
	Rules    string `json:"rules"`
	Activate bool   `json:"activate"`
}

// List GET /api/v1/profiles
func (h *ProfileHandler) List(c *gin.Context) {
	list, err := h.profiles.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	out := make([]ProfileResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toProfileResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"profiles": out, "count": len(out)})
}

// Save POST /api/v1/profiles
func (h *ProfileHandler) Save(c *gin.Context) {
	var req SaveProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_INPUT", Error: err.Error()})
		return
	}
	p, err := h.profiles.Save(c.Request.Context(), req.Name, req.Head, req.Rules, req.Activate)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toProfileResponse(p))
}

// Activate POST /api/v1/profiles/:id/activate
func (h *ProfileHandler) Activate(c *gin.Context) {
	p, err := h.profiles.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toProfileResponse(p))
}
