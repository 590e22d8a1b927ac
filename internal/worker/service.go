package worker

import (
	"context"
	"errors"

	"github.com/entrega-next/internal/config"
	"github.com/entrega-next/internal/logger"
	"github.com/entrega-next/internal/queue"

	"github.com/hibiken/asynq"
)

// Service 异步队列服务（asynq 消费 + cron 兜底扫描）
type Service struct {
	name      string
	server    *asynq.Server
	mux       *asynq.ServeMux
	consumer  *Consumer
	scheduler *Scheduler
}

// NewService 创建异步队列服务；队列关闭时只运行兜底扫描
func NewService(cfg *config.QueueConfig, consumer *Consumer, scheduler *Scheduler) (*Service, error) {
	if cfg == nil || !cfg.Enabled {
		if scheduler == nil {
			return nil, errors.New("queue disabled")
		}
		logger.Warnw("worker_queue_disabled", "mode", "scheduler_only")
		return &Service{name: "worker", scheduler: scheduler}, nil
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	opt, serverCfg := queue.BuildServerConfig(cfg)
	server := asynq.NewServer(opt, serverCfg)
	mux := asynq.NewServeMux()
	consumer.Register(mux)
	return &Service{
		name:      "worker",
		server:    server,
		mux:       mux,
		consumer:  consumer,
		scheduler: scheduler,
	}, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动服务
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("worker not initialized")
	}
	if s.scheduler != nil {
		s.scheduler.Start()
	}
	if s.server == nil {
		if s.scheduler == nil {
			return errors.New("worker not initialized")
		}
		<-ctx.Done()
		return nil
	}
	return s.server.Run(s.mux)
}

// Stop 停止服务
func (s *Service) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if s.scheduler != nil {
		s.scheduler.Stop(ctx)
	}
	if s.server != nil {
		s.server.Shutdown()
	}
	return nil
}
