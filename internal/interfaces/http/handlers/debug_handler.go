package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DebugHandler 调试 API 处理器
type DebugHandler struct {
	monitor Monitor
	clients ClientCounter
	logger  *zap.Logger
}

// Monitor 监控接口
type Monitor interface {
	GetStats() map[string]interface{}
}

// ClientCounter 实时连接统计接口
type ClientCounter interface {
	GetClientCount() int
}

// NewDebugHandler 创建调试处理器
func NewDebugHandler(monitor Monitor, clients ClientCounter, logger *zap.Logger) *DebugHandler {
	return &DebugHandler{
		monitor: monitor,
		clients: clients,
		logger:  logger,
	}
}

// GetMetrics 获取性能指标
// GET /api/v1/debug/metrics
func (h *DebugHandler) GetMetrics(c *gin.Context) {
	stats := h.monitor.GetStats()
	if h.clients != nil {
		stats["ws_clients"] = h.clients.GetClientCount()
	}
	c.JSON(http.StatusOK, stats)
}

// GetRuntime 获取运行时信息
// GET /api/v1/debug/runtime
func (h *DebugHandler) GetRuntime(c *gin.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	c.JSON(http.StatusOK, gin.H{
		"go_version":    runtime.Version(),
		"num_cpu":       runtime.NumCPU(),
		"num_goroutine": runtime.NumGoroutine(),
		"memory": gin.H{
			"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
			"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
			"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
			"num_gc":         memStats.NumGC,
		},
		"timestamp": time.Now().Unix(),
	})
}

// RegisterDebugRoutes 注册调试路由
func RegisterDebugRoutes(router *gin.RouterGroup, handler *DebugHandler) {
	debug := router.Group("/debug")
	{
		debug.GET("/metrics", handler.GetMetrics)
		debug.GET("/runtime", handler.GetRuntime)
	}
}
