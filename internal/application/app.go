package application

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ngoclaw/scenegate/internal/application/usecase"
	"github.com/ngoclaw/scenegate/internal/domain/budget"
	"github.com/ngoclaw/scenegate/internal/domain/entity"
	"github.com/ngoclaw/scenegate/internal/domain/prompt"
	"github.com/ngoclaw/scenegate/internal/domain/service"
	"github.com/ngoclaw/scenegate/internal/infrastructure/config"
	"github.com/ngoclaw/scenegate/internal/infrastructure/eventbus"
	"github.com/ngoclaw/scenegate/internal/infrastructure/llm"
	"github.com/ngoclaw/scenegate/internal/infrastructure/monitoring"
	"github.com/ngoclaw/scenegate/internal/infrastructure/profiles"
	"github.com/ngoclaw/scenegate/internal/infrastructure/scheduler"
	"github.com/ngoclaw/scenegate/internal/interfaces/healthgrpc"
	httpServer "github.com/ngoclaw/scenegate/internal/interfaces/http"
	"github.com/ngoclaw/scenegate/internal/interfaces/websocket"
	"github.com/ngoclaw/scenegate/pkg/safego"
)

// App 应用程序
type App struct {
	// 配置
	config *config.Config
	logger *zap.Logger

	// 仓储层
	repos *Repositories

	// 领域服务
	estimator    *budget.Estimator
	orchestrator *service.ReplyOrchestrator
	profileSvc   *service.ProfileService
	breaker      *llm.CircuitBreaker

	// 应用服务
	conversations *usecase.ConversationUseCase
	intake        *usecase.IntakeUseCase
	profiles      *usecase.ProfileUseCase

	// 基础设施
	bus         *eventbus.InMemoryBus
	monitor     *monitoring.Monitor
	archiver    *scheduler.Archiver
	loader      *profiles.Loader
	redis       *redis.Client
	redisDetach func()

	// 接口层
	hub          *websocket.Hub
	hubCancel    context.CancelFunc
	httpServer   *httpServer.Server
	healthServer *healthgrpc.Server
}

// NewApp 创建应用程序（依赖注入容器）
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	// Bootstrap: ensure ~/.scenegate/ exists with default files on first run
	if err := config.Bootstrap(config.HomeDir(), logger); err != nil {
		logger.Warn("Bootstrap failed (non-fatal)", zap.Error(err))
	}

	app := &App{
		config: cfg,
		logger: logger,
	}

	if err := app.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}
	if err := app.initDomainServices(); err != nil {
		return nil, fmt.Errorf("failed to init domain services: %w", err)
	}
	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}
	app.initApplicationServices()
	app.initInterfaces()

	return app, nil
}

func (app *App) initRepositories() error {
	repos, err := OpenRepositories(&app.config.Database)
	if err != nil {
		return err
	}
	app.repos = repos
	app.logger.Info("Repositories initialized",
		zap.String("type", app.config.Database.Type),
		zap.Bool("persistent", repos.Persistent()),
	)
	return nil
}

func (app *App) initDomainServices() error {
	cfg := app.config

	tier, err := prompt.ParseTier(cfg.Prompt.DefaultTier)
	if err != nil {
		return err
	}
	engine, breaker, err := llm.NewEngine(cfg.Inference, app.logger)
	if err != nil {
		return err
	}
	app.breaker = breaker

	app.estimator = budget.NewEstimator(llm.NewTokenizer(cfg.Inference, app.logger), cfg.Prompt.MemoCapacity)
	assembler := prompt.NewAssembler(app.estimator, prompt.WithAdminTurns(cfg.Prompt.IncludeAdminTurns))

	app.orchestrator = service.NewReplyOrchestrator(service.OrchestratorDeps{
		Conversations: app.repos.Conversations,
		Messages:      app.repos.Messages,
		Tasks:         app.repos.Tasks,
		Profiles:      app.repos.Profiles,
		Assembler:     assembler,
		Estimator:     app.estimator,
		Engine:        engine,
	}, service.OrchestratorConfig{
		TaskTimeout:   cfg.Orchestrator.TaskTimeout,
		CommitTimeout: cfg.Orchestrator.CommitTimeout,
		HistoryWindow: cfg.Orchestrator.HistoryWindow,
		Budget:        cfg.Prompt.Budget,
		DefaultTier:   tier,
	}, app.logger)

	app.profileSvc = service.NewProfileService(app.repos.Profiles, app.logger)
	return nil
}

func (app *App) initInfrastructure() error {
	cfg := app.config

	app.bus = eventbus.NewInMemoryBus(app.logger, 1024)
	newTaskEventBridge(app.bus, app.repos.Messages, app.logger).Attach(app.orchestrator)

	app.monitor = monitoring.NewMonitor(app.logger)
	app.monitor.Attach(app.bus)
	app.monitor.SetEstimatorSource(app.estimator.Stats)
	app.monitor.SetBreakerSource(func() string { return app.breaker.State().String() })

	app.archiver = scheduler.NewArchiver(app.repos.Tasks,
		cfg.Orchestrator.ArchiveSchedule, cfg.Orchestrator.ArchiveAfter, app.logger)

	loader, err := profiles.NewLoader(profiles.Config{
		Dir:         cfg.Profiles.Dir,
		Watch:       cfg.Profiles.Watch,
		DefaultName: cfg.Profiles.Default,
	}, app.profileSvc, app.logger)
	if err != nil {
		return fmt.Errorf("profile loader: %w", err)
	}
	loader.OnReload(func(p *entity.SystemPromptProfile) {
		if !p.IsActive() {
			return
		}
		app.bus.Publish(context.Background(), eventbus.NewEvent(eventbus.EventProfileActivated,
			eventbus.ProfilePayload{ProfileID: p.ID(), Name: p.Name()}))
	})
	app.loader = loader
	return nil
}

func (app *App) initApplicationServices() {
	app.conversations = usecase.NewConversationUseCase(app.orchestrator,
		app.repos.Conversations, app.repos.Messages, app.bus, app.logger)
	app.intake = usecase.NewIntakeUseCase(app.repos.Forms, app.repos.Conversations,
		app.config.Intake.FieldMap, app.bus, app.logger)
	app.profiles = usecase.NewProfileUseCase(app.profileSvc, app.bus, app.logger)
}

func (app *App) initInterfaces() {
	cfg := app.config

	app.hub = websocket.NewHub(app.logger)
	app.hub.Attach(app.bus)
	app.hub.SetMessageHandler(app.handleClientMessage)

	app.httpServer = httpServer.NewServer(httpServer.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		Mode:         cfg.Server.Mode,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, httpServer.Deps{
		Conversations: app.conversations,
		Intake:        app.intake,
		Profiles:      app.profiles,
		Monitor:       app.monitor,
		Metrics:       app.monitor.PrometheusHandler(),
		WebSocket:     websocket.NewHandler(app.hub, app.logger).ServeWS,
		WSClients:     app.hub,
		Ready:         app.repos.Ping,
	}, app.logger)

	if cfg.Health.GRPCEnabled {
		app.healthServer = healthgrpc.NewServer(cfg.Health.GRPCPort, 5*time.Second, app.logger)
		app.healthServer.AddCheck("", app.repos.Ping)
		app.healthServer.AddCheck(healthgrpc.InferenceService, func() bool {
			return app.breaker.State() != llm.CircuitOpen
		})
	}
}

// handleClientMessage answers "send" frames from websocket clients. Replies
// arrive asynchronously through the bus like any other message.
func (app *App) handleClientMessage(client *websocket.Client, msg *websocket.WSMessage) {
	if msg.Type != websocket.MessageTypeSend {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), app.config.Orchestrator.CommitTimeout)
	defer cancel()

	if _, err := app.conversations.SendUserMessage(ctx, msg.ConversationID, msg.Content, msg.Tier); err != nil {
		app.logger.Warn("WebSocket send failed",
			zap.String("client_id", client.ID),
			zap.String("conversation_id", msg.ConversationID),
			zap.Error(err),
		)
		client.SendMessage(&websocket.WSMessage{
			Type:           websocket.MessageTypeError,
			ConversationID: msg.ConversationID,
			Content:        err.Error(),
		})
	}
}

// Start 启动应用程序
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("Starting application")

	// 加载提示词配置文件
	n, err := app.loader.LoadAll(ctx)
	if err != nil {
		app.logger.Warn("Profile load incomplete", zap.Error(err))
	}
	app.logger.Info("Profiles loaded", zap.Int("count", n))
	if app.config.Profiles.Watch {
		if err := app.loader.StartWatching(ctx); err != nil {
			app.logger.Warn("Profile watcher not started", zap.Error(err))
		}
	}

	// Redis 跨进程事件广播
	if app.config.Redis.Enabled {
		client, err := eventbus.NewRedisClient(ctx, app.config.Redis.Addr, app.config.Redis.Password, app.config.Redis.DB)
		if err != nil {
			app.logger.Warn("Redis unavailable, task events stay local", zap.Error(err))
		} else {
			app.redis = client
			app.redisDetach = eventbus.NewRedisPublisher(client, app.config.Redis.Channel, app.logger).Attach(app.bus)
		}
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	app.hubCancel = cancel
	safego.Go(app.logger, "ws-hub", func() { app.hub.Run(hubCtx) })

	if err := app.archiver.Start(); err != nil {
		return fmt.Errorf("failed to start archiver: %w", err)
	}

	// 启动HTTP服务器
	if err := app.httpServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 启动 gRPC 健康检查
	if app.healthServer != nil {
		if err := app.healthServer.Start(); err != nil {
			app.logger.Warn("gRPC health server failed to start", zap.Error(err))
		}
	}

	app.logger.Info("Application started successfully")
	return nil
}

// Stop 停止应用程序
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("Stopping application")

	// 先停接入面，再等待进行中的任务
	var g errgroup.Group
	g.Go(func() error {
		if err := app.httpServer.Stop(ctx); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if app.healthServer != nil {
		g.Go(func() error {
			app.healthServer.Stop(ctx)
			return nil
		})
	}
	g.Go(func() error {
		app.archiver.Stop(ctx)
		return nil
	})
	g.Go(func() error {
		return app.loader.Close()
	})
	stopErr := g.Wait()
	if stopErr != nil {
		app.logger.Error("Failed to stop interfaces", zap.Error(stopErr))
	}

	if err := app.orchestrator.Shutdown(ctx); err != nil {
		app.logger.Warn("Reply tasks still running at shutdown", zap.Error(err))
	}

	if app.hubCancel != nil {
		app.hubCancel()
	}
	if app.redisDetach != nil {
		app.redisDetach()
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	app.bus.Close()

	// 关闭数据库连接
	if err := app.repos.Close(); err != nil {
		app.logger.Error("Failed to close database connection", zap.Error(err))
	}

	app.logger.Info("Application stopped successfully")
	return stopErr
}

// Logger 获取日志器
func (app *App) Logger() *zap.Logger { return app.logger }

// AppConfig 获取配置
func (app *App) AppConfig() *config.Config { return app.config }

// Conversations 会话用例
func (app *App) Conversations() *usecase.ConversationUseCase { return app.conversations }

// Intake 表单接入用例
func (app *App) Intake() *usecase.IntakeUseCase { return app.intake }

// Profiles 提示词配置用例
func (app *App) Profiles() *usecase.ProfileUseCase { return app.profiles }

// ProfileService 提示词配置领域服务
func (app *App) ProfileService() *service.ProfileService { return app.profileSvc }

// Orchestrator 回复编排器
func (app *App) Orchestrator() *service.ReplyOrchestrator { return app.orchestrator }

// Monitor 运行指标
func (app *App) Monitor() *monitoring.Monitor { return app.monitor }
