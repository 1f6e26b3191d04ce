// Package scheduler runs periodic maintenance jobs with cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/domain/repository"
	"github.com/ngoclaw/scenegate/pkg/safego"
)

// Archiver 定期归档终态生成任务
type Archiver struct {
	tasks    repository.TaskRepository
	schedule string
	after    time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	running atomic.Bool
	total   atomic.Int64
}

// NewArchiver 创建归档器
// schedule 为 cron 表达式（支持 @every 等描述符），after 为终态任务保留时长
func NewArchiver(tasks repository.TaskRepository, schedule string, after time.Duration, logger *zap.Logger) *Archiver {
	if after <= 0 {
		after = time.Hour
	}
	return &Archiver{
		tasks:    tasks,
		schedule: schedule,
		after:    after,
		timeout:  30 * time.Second,
		logger:   logger.With(zap.String("component", "task_archiver")),
		now:      time.Now,
	}
}

// Start 注册定时任务并启动调度
func (a *Archiver) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.schedule == "" {
		a.logger.Info("Task archival disabled")
		return nil
	}
	if a.cron != nil {
		return nil
	}

	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	id, err := c.AddFunc(a.schedule, func() {
		safego.Run(a.logger, "archive-sweep", func() {
			ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
			defer cancel()
			_, _ = a.Sweep(ctx)
		})
	})
	if err != nil {
		return fmt.Errorf("invalid archive schedule %q: %w", a.schedule, err)
	}

	c.Start()
	a.cron = c
	a.entryID = id
	a.logger.Info("Task archival scheduled",
		zap.String("schedule", a.schedule),
		zap.Duration("retain", a.after),
		zap.Time("next_run", c.Entry(id).Next),
	)
	return nil
}

// Stop 停止调度并等待进行中的清理完成
func (a *Archiver) Stop(ctx context.Context) {
	a.mu.Lock()
	c := a.cron
	a.cron = nil
	a.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		a.logger.Warn("Archiver stop timed out")
	}
}

// Sweep 执行一次归档；并发触发时后到者直接跳过
func (a *Archiver) Sweep(ctx context.Context) (int64, error) {
	if !a.running.CompareAndSwap(false, true) {
		a.logger.Debug("Archive sweep already running, skipping")
		return 0, nil
	}
	defer a.running.Store(false)

	before := a.now().Add(-a.after)
	n, err := a.tasks.ArchiveTerminal(ctx, before)
	if err != nil {
		a.logger.Error("Archive sweep failed", zap.Error(err))
		return 0, err
	}
	a.total.Add(n)
	if n > 0 {
		a.logger.Info("Archived terminal tasks",
			zap.Int64("count", n),
			zap.Time("before", before),
		)
	}
	return n, nil
}

// Archived 返回启动以来归档的任务总数
func (a *Archiver) Archived() int64 { return a.total.Load() }
