package app

import (
	"errors"

	"github.com/entrega-next/internal/config"
	"github.com/entrega-next/internal/provider"
	"github.com/entrega-next/internal/router"
	"github.com/entrega-next/internal/worker"
)

// BuildRunner 构建服务运行器
func BuildRunner(cfg *config.Config, container *provider.Container, mode string) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if container == nil {
		return nil, errors.New("container is nil")
	}

	var services []Service

	// 初始化 HTTP 服务
	if mode == ModeAll || mode == ModeAPI {
		engine := router.SetupRouter(cfg, container)
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		httpService := NewHTTPService(addr, engine)
		services = append(services, httpService)
	}

	// 初始化 Worker 服务（asynq 消费者 + 兜底扫描）
	if mode == ModeAll || mode == ModeWorker {
		consumer := worker.NewConsumer(container)
		scheduler, err := worker.NewScheduler(worker.BuildJobs(cfg, container.NotificationService, container.PaymentService))
		if err != nil {
			return nil, err
		}
		workerService, err := worker.NewService(&cfg.Queue, consumer, scheduler)
		if err != nil {
			return nil, err
		}
		services = append(services, workerService)
	}

	// 如果没有服务被启动（例如模式错误或配置导致都没起），应该报错或至少打日志
	if len(services) == 0 {
		return nil, errors.New("no services initialized (check mode and config)")
	}

	return NewRunner(services...), nil
}

// Run 应用启动入口
func Run(opts Options) error {
	opts = normalizeOptions(opts)
	if opts.Config == nil {
		return errors.New("config is nil")
	}
	if opts.DB == nil {
		return errors.New("database is nil")
	}

	container, err := provider.NewContainer(opts.Config, opts.DB)
	if err != nil {
		return err
	}
	defer container.Close()

	runner, err := BuildRunner(opts.Config, container, opts.Mode)
	if err != nil {
		return err
	}

	addr := opts.Config.Server.Host + ":" + opts.Config.Server.Port
	opts.Logger.Infow("app_start", "addr", addr, "mode", opts.Mode)
	return RunWithOptions(runner, opts)
}
