package worker

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/entrega-next/internal/config"
	"github.com/entrega-next/internal/logger"

	"github.com/robfig/cron/v3"
)

// Job 周期性兜底扫描任务
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) (int, error)
}

// NotificationRescanner 通知兜底扫描
type NotificationRescanner interface {
	RescanDue(ctx context.Context) (int, error)
}

// PaymentRescanner 支付兜底扫描
type PaymentRescanner interface {
	RescanRefundIntents(ctx context.Context, limit int) (int, error)
	ExpireOverdue(ctx context.Context, limit int) (int, error)
}

// Scheduler 基于 cron 的兜底扫描调度器。
// 任务丢失（进程崩溃、redis 清空）时，数据库里的 PENDING 行由这里重新捡起。
type Scheduler struct {
	cron *cron.Cron

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// BuildJobs 根据配置组装扫描任务
func BuildJobs(cfg *config.Config, notifications NotificationRescanner, payments PaymentRescanner) []Job {
	if cfg == nil {
		return nil
	}
	jobs := make([]Job, 0, 3)
	if notifications != nil {
		jobs = append(jobs, Job{
			Name: "notification_rescan",
			Spec: cfg.Notification.RescanSpec,
			Run:  notifications.RescanDue,
		})
	}
	if payments != nil {
		limit := cfg.Payment.BatchSize
		if limit <= 0 {
			limit = 50
		}
		jobs = append(jobs,
			Job{
				Name: "refund_intent_rescan",
				Spec: cfg.Payment.RescanSpec,
				Run: func(ctx context.Context) (int, error) {
					return payments.RescanRefundIntents(ctx, limit)
				},
			},
			Job{
				Name: "payment_expire_rescan",
				Spec: cfg.Payment.RescanSpec,
				Run: func(ctx context.Context) (int, error) {
					return payments.ExpireOverdue(ctx, limit)
				},
			},
		)
	}
	return jobs
}

// NewScheduler 创建调度器；spec 为空的任务不注册
func NewScheduler(jobs []Job) (*Scheduler, error) {
	cronLogger := cron.PrintfLogger(logger.StdLogger())
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	s := &Scheduler{cron: c}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	for _, job := range jobs {
		if strings.TrimSpace(job.Spec) == "" || job.Run == nil {
			logger.Debugw("worker_scheduler_job_skip", "job", job.Name)
			continue
		}
		job := job
		if _, err := c.AddFunc(job.Spec, func() { s.runJob(job) }); err != nil {
			return nil, errors.New("invalid cron spec for " + job.Name + ": " + err.Error())
		}
		logger.Infow("worker_scheduler_job_registered", "job", job.Name, "spec", job.Spec)
	}
	return s, nil
}

// Start 启动调度
func (s *Scheduler) Start() {
	if s == nil || s.cron == nil {
		return
	}
	s.cron.Start()
}

// Stop 停止调度并等待执行中的任务结束
func (s *Scheduler) Stop(ctx context.Context) {
	if s == nil || s.cron == nil {
		return
	}
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		logger.Warnw("worker_scheduler_stop_timeout")
	}
}

// Entries 已注册的任务数
func (s *Scheduler) Entries() int {
	if s == nil || s.cron == nil {
		return 0
	}
	return len(s.cron.Entries())
}

func (s *Scheduler) runJob(job Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	count, err := job.Run(ctx)
	if err != nil {
		logger.Warnw("worker_scheduler_job_failed", "job", job.Name, "error", err)
		return
	}
	if count > 0 {
		logger.Infow("worker_scheduler_job_done", "job", job.Name, "count", count)
	}
}
