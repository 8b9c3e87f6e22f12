/*
 * @module service/scheduler/resume
 * @description 批次续跑调度器：按 Cron 表达式认领租约已释放或过期的 RUNNING 批次并执行
 * @architecture 基于 robfig/cron 的定时调度
 * @rules 同一时刻本实例只执行一轮；配置分布式锁时多实例之间也只执行一轮；认领依赖 SKIP LOCKED，多实例之间互不重复
 * @dependencies github.com/robfig/cron/v3, catalog-hub/service/pipeline
 * @refs service/pipeline/runner.go
 */

package scheduler

import (
	"catalog-hub/service/pipeline"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// 单轮最多续跑的批次数
const maxBatchesPerTick = 10

const tickLockKey = "resume_tick"

// TickLocker 跨实例的轮次锁
type TickLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// BatchRunner 批次执行接口
type BatchRunner interface {
	RunNext(ctx context.Context) (*pipeline.Result, error)
}

// ResumeScheduler 批次续跑调度器
type ResumeScheduler struct {
	runner BatchRunner
	spec   string
	cron   *cron.Cron

	locker  TickLocker
	lockTTL time.Duration

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewResumeScheduler 创建续跑调度器，spec 为带秒字段的 Cron 表达式
func NewResumeScheduler(runner BatchRunner, spec string) *ResumeScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &ResumeScheduler{
		runner: runner,
		spec:   spec,
		cron:   cron.New(cron.WithSeconds()),
		ctx:    ctx,
		cancel: cancel,
	}
}

// UseLock 设置跨实例轮次锁，ttl 应覆盖一轮的最长执行时间
func (s *ResumeScheduler) UseLock(locker TickLocker, ttl time.Duration) {
	s.locker = locker
	s.lockTTL = ttl
}

// Start 启动调度器
func (s *ResumeScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.Tick); err != nil {
		return fmt.Errorf("添加续跑任务失败: %w", err)
	}
	s.cron.Start()
	slog.Info("批次续跑调度器已启动", "cron", s.spec)
	return nil
}

// Stop 停止调度器并等待当前一轮结束
func (s *ResumeScheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	slog.Info("批次续跑调度器已停止")
}

// Tick 执行一轮续跑；上一轮未结束时跳过
func (s *ResumeScheduler) Tick() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		slog.Debug("上一轮续跑尚未结束，跳过")
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if s.locker != nil {
		ok, err := s.locker.TryLock(s.ctx, tickLockKey, s.lockTTL)
		if err != nil {
			slog.Error("获取续跑轮次锁失败", "error", err)
			return
		}
		if !ok {
			slog.Debug("续跑轮次锁已被其他实例持有，跳过")
			return
		}
		defer func() {
			if err := s.locker.Unlock(context.WithoutCancel(s.ctx), tickLockKey); err != nil {
				slog.Error("释放续跑轮次锁失败", "error", err)
			}
		}()
	}

	for i := 0; i < maxBatchesPerTick; i++ {
		if s.ctx.Err() != nil {
			return
		}
		res, err := s.runner.RunNext(s.ctx)
		if err != nil {
			slog.Error("续跑批次失败", "error", err)
			return
		}
		if res == nil {
			return
		}
		slog.Info("续跑批次完成", "batch_id", res.BatchID, "status", res.Status)
	}
}
