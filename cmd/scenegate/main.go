package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ngoclaw/scenegate/internal/application"
	"github.com/ngoclaw/scenegate/internal/application/usecase"
	"github.com/ngoclaw/scenegate/internal/domain/service"
	"github.com/ngoclaw/scenegate/internal/infrastructure/config"
	"github.com/ngoclaw/scenegate/internal/infrastructure/logger"
	"github.com/ngoclaw/scenegate/internal/infrastructure/profiles"
)

const (
	appName    = "scenegate"
	appVersion = "0.1.0"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          appName,
		Short:        "SceneGate roleplay chat gateway",
		Long:         "SceneGate 将表单问卷合成为会话场景，并以单任务替换策略为每个会话生成回复",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径 (默认 ~/.scenegate/config.yaml)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "启动网关服务 (HTTP + WebSocket + gRPC health)",
		RunE:  runServe,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "synthesize <submission.yaml|json>",
		Short: "离线合成表单场景文本",
		Args:  cobra.ExactArgs(1),
		RunE:  runSynthesize,
	})

	profilesCmd := &cobra.Command{
		Use:   "profiles",
		Short: "管理系统提示词配置",
	}
	profilesCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "列出所有配置",
		Args:  cobra.NoArgs,
		RunE:  runProfilesList,
	})
	profilesCmd.AddCommand(&cobra.Command{
		Use:   "load",
		Short: "从 profiles 目录导入配置文件",
		Args:  cobra.NoArgs,
		RunE:  runProfilesLoad,
	})
	profilesCmd.AddCommand(&cobra.Command{
		Use:   "activate <name>",
		Short: "激活指定配置",
		Args:  cobra.ExactArgs(1),
		RunE:  runProfilesActivate,
	})
	rootCmd.AddCommand(profilesCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "显示版本",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "环境诊断",
		RunE:  runDoctor,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

// quietLogger is used by one-shot commands.
func quietLogger() *zap.Logger {
	log, err := logger.NewLogger(logger.Config{Level: "error", Format: "console", OutputPath: "stderr"})
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// ─── Gateway Server Mode ───

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	log.Info("Starting SceneGate",
		zap.String("version", appVersion),
		zap.String("database", cfg.Database.Type),
		zap.String("inference", cfg.Inference.Provider),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := application.NewApp(cfg, log)
	if err != nil {
		log.Error("Failed to initialize application", zap.Error(err))
		return err
	}

	if err := app.Start(ctx); err != nil {
		log.Error("Failed to start application", zap.Error(err))
		return err
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		return err
	}
	return nil
}

// ─── Offline synthesis ───

func runSynthesize(cmd *cobra.Command, args []string) error {
	in, err := readSubmission(args[0])
	if err != nil {
		return err
	}

	fieldMap := map[string]string{}
	if cfg, err := loadConfig(); err == nil {
		fieldMap = cfg.Intake.FieldMap
	}

	uc := usecase.NewIntakeUseCase(nil, nil, fieldMap, nil, quietLogger())
	sc, err := uc.Preview(*in)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), sc.Text)
	if sc.IsDegraded() {
		fmt.Fprintf(cmd.ErrOrStderr(), "degraded fields: %s\n", strings.Join(sc.Degraded, ", "))
	}
	return nil
}

func readSubmission(path string) (*usecase.IntakeInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var in usecase.IntakeInput
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &in)
	default:
		err = yaml.Unmarshal(data, &in)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if in.ResponseID == "" {
		in.ResponseID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &in, nil
}

// ─── Profiles ───

func withProfileService(fn func(ctx context.Context, svc *service.ProfileService, cfg *config.Config) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Database.Type == "memory" {
		return fmt.Errorf("database.type is memory; profiles live only inside a running server")
	}
	repos, err := application.OpenRepositories(&cfg.Database)
	if err != nil {
		return err
	}
	defer repos.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, service.NewProfileService(repos.Profiles, quietLogger()), cfg)
}

func runProfilesList(cmd *cobra.Command, args []string) error {
	return withProfileService(func(ctx context.Context, svc *service.ProfileService, _ *config.Config) error {
		list, err := svc.List(ctx)
		if err != nil {
			return err
		}
		for _, p := range list {
			marker := " "
			if p.IsActive() {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %-20s %s\n", marker, p.Name(), p.ID())
		}
		return nil
	})
}

func runProfilesLoad(cmd *cobra.Command, args []string) error {
	return withProfileService(func(ctx context.Context, svc *service.ProfileService, cfg *config.Config) error {
		loader, err := profiles.NewLoader(profiles.Config{
			Dir:         cfg.Profiles.Dir,
			DefaultName: cfg.Profiles.Default,
		}, svc, quietLogger())
		if err != nil {
			return err
		}
		defer loader.Close()

		n, err := loader.LoadAll(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "loaded %d profile(s) from %s\n", n, cfg.Profiles.Dir)
		return nil
	})
}

func runProfilesActivate(cmd *cobra.Command, args []string) error {
	return withProfileService(func(ctx context.Context, svc *service.ProfileService, _ *config.Config) error {
		p, err := svc.ActivateByName(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "active profile: %s (%s)\n", p.Name(), p.ID())
		return nil
	})
}

// ─── Doctor ───

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("◇ SceneGate Doctor v%s\n\n", appVersion)

	checks := []struct {
		name  string
		check func() (string, bool)
	}{
		{"配置文件", checkConfig},
		{"配置校验", checkConfigValid},
		{"提示词目录", checkProfilesDir},
	}

	allOK := true
	for _, c := range checks {
		val, ok := c.check()
		icon := "\033[92m✓\033[0m"
		if !ok {
			icon = "\033[91m✗\033[0m"
			allOK = false
		}
		fmt.Printf("  %s %s: %s\n", icon, c.name, val)
	}

	fmt.Println()
	if allOK {
		fmt.Println("所有检查通过 ✓")
	} else {
		fmt.Println("存在问题, 请检查上方标记")
	}
	return nil
}

func checkConfig() (string, bool) {
	path := configPath
	if path == "" {
		path = filepath.Join(config.HomeDir(), "config.yaml")
	}
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	return "未找到 " + path, false
}

func checkConfigValid() (string, bool) {
	cfg, err := loadConfig()
	if err != nil {
		return err.Error(), false
	}
	return fmt.Sprintf("database=%s inference=%s", cfg.Database.Type, cfg.Inference.Provider), true
}

func checkProfilesDir() (string, bool) {
	cfg, err := loadConfig()
	if err != nil {
		return "配置无效", false
	}
	entries, err := os.ReadDir(cfg.Profiles.Dir)
	if err != nil {
		return "未找到 " + cfg.Profiles.Dir, false
	}
	return fmt.Sprintf("%s (%d 个文件)", cfg.Profiles.Dir, len(entries)), true
}
