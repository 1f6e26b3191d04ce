package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/application/usecase"
	"github.com/ngoclaw/scenegate/internal/interfaces/http/handlers"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config HTTP服务器配置
type Config struct {
	Host         string
	Port         int
	Mode         string // local, production
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Deps HTTP 层依赖
type Deps struct {
	Conversations *usecase.ConversationUseCase
	Intake        *usecase.IntakeUseCase
	Profiles      *usecase.ProfileUseCase
	Monitor       handlers.Monitor
	Metrics       http.Handler           // Prometheus text endpoint
	WebSocket     http.HandlerFunc       // nil disables /ws
	WSClients     handlers.ClientCounter // optional
	Ready         func() bool            // nil means always ready
}

// NewServer 创建HTTP服务器
func NewServer(cfg Config, deps Deps, logger *zap.Logger) *Server {
	// 设置Gin模式
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     NewRouter(deps, logger),
		ReadTimeout: cfg.ReadTimeout,
		// websocket connections manage their own deadlines
		WriteTimeout: 0,
	}
	if deps.WebSocket == nil {
		server.WriteTimeout = cfg.WriteTimeout
	}

	return &Server{
		server: server,
		logger: logger,
	}
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps Deps, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))
	setupRoutes(router, deps, logger)
	return router
}

// Start 启动服务器
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.server.Addr, err)
	}
	s.logger.Info("Starting HTTP server", zap.String("address", ln.Addr().String()))

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// setupRoutes 设置路由
func setupRoutes(router *gin.Engine, deps Deps, logger *zap.Logger) {
	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		if deps.Ready != nil && !deps.Ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "time": time.Now().Unix()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}
	if deps.WebSocket != nil {
		router.GET("/ws", gin.WrapF(deps.WebSocket))
	}

	messageHandler := handlers.NewMessageHandler(deps.Conversations, logger)
	intakeHandler := handlers.NewIntakeHandler(deps.Intake, logger)
	profileHandler := handlers.NewProfileHandler(deps.Profiles, logger)

	// API版本1
	v1 := router.Group("/api/v1")
	{
		v1.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"message": "pong",
			})
		})

		v1.POST("/intake", intakeHandler.Submit)

		conv := v1.Group("/conversations/:id")
		{
			conv.GET("", messageHandler.GetConversation)
			conv.GET("/messages", messageHandler.ListMessages)
			conv.POST("/messages", messageHandler.SendMessage)
			conv.POST("/admin-messages", messageHandler.SendAdminMessage)
			conv.PUT("/ai", messageHandler.SetAI)
		}

		v1.GET("/tasks/:id", messageHandler.GetTask)
		v1.DELETE("/tasks/:id", messageHandler.CancelTask)

		v1.GET("/profiles", profileHandler.List)
		v1.POST("/profiles", profileHandler.Save)
		v1.POST("/profiles/:id/activate", profileHandler.Activate)

		if deps.Monitor != nil {
			handlers.RegisterDebugRoutes(v1, handlers.NewDebugHandler(deps.Monitor, deps.WSClients, logger))
		}
	}
}

// requestIDHeader 请求追踪头, 客户端未提供时由网关生成
const requestIDHeader = "X-Request-ID"

// ginLogger Gin日志中间件
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
			zap.String("request_id", requestID),
		)
	}
}
