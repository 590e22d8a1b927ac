package main

import (
	"flag"
	"fmt"
	"os"
	"syscall"

	"github.com/entrega-next/internal/app"
	"github.com/entrega-next/internal/config"
	"github.com/entrega-next/internal/logger"
	"github.com/entrega-next/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

const (
	ansiReset = "\033[0m"
	ansiBold  = "\033[1m"
	ansiDim   = "\033[2m"
	ansiGreen = "\033[32m"
	ansiCyan  = "\033[36m"
)

func main() {
	// 解析命令行参数
	var mode string
	var envFile string
	flag.StringVar(&mode, "mode", app.ModeAll, "启动模式: all (默认), api, worker")
	flag.StringVar(&envFile, "env", ".env", "环境变量文件（不存在时忽略）")
	flag.Parse()

	envLoaded := godotenv.Load(envFile) == nil

	printStartupBanner(mode)

	// 加载配置
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	if envLoaded {
		logger.Infow("env_file_loaded", "path", envFile)
	}

	if cfg.Server.Mode == "release" {
		if cfg.WhatsApp.AppSecret == "" {
			stdLog.Printf("警告: 未配置 whatsapp.app_secret，webhook 签名校验已关闭")
		}
		if cfg.PagSeguro.WebhookToken == "" {
			stdLog.Printf("警告: 未配置 pagseguro.webhook_token，支付回调签名校验已关闭")
		}
	}

	// 初始化数据库
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}); err != nil {
		stdLog.Fatalf("数据库初始化失败: %v", err)
	}

	// 自动迁移数据库表
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("数据库迁移失败: %v", err)
	}

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := app.Run(app.Options{
		Config:  cfg,
		DB:      models.DB,
		Logger:  logger.S(),
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		Mode:    mode,
	}); err != nil {
		stdLog.Fatalf("服务运行失败: %v", err)
	}
}

func printStartupBanner(mode string) {
	fmt.Println(ansiCyan + "███████╗███╗   ██╗████████╗██████╗ ███████╗ ██████╗  █████╗ " + ansiReset)
	fmt.Println(ansiCyan + "██╔════╝████╗  ██║╚══██╔══╝██╔══██╗██╔════╝██╔════╝ ██╔══██╗" + ansiReset)
	fmt.Println(ansiCyan + "█████╗  ██╔██╗ ██║   ██║   ██████╔╝█████╗  ██║  ███╗███████║" + ansiReset)
	fmt.Println(ansiCyan + "██╔══╝  ██║╚██╗██║   ██║   ██╔══██╗██╔══╝  ██║   ██║██╔══██║" + ansiReset)
	fmt.Println(ansiCyan + "███████╗██║ ╚████║   ██║   ██║  ██║███████╗╚██████╔╝██║  ██║" + ansiReset)
	fmt.Println(ansiCyan + "╚══════╝╚═╝  ╚═══╝   ╚═╝   ╚═╝  ╚═╝╚══════╝ ╚═════╝ ╚═╝  ╚═╝" + ansiReset)
	fmt.Println(ansiGreen + ansiBold + "WhatsApp delivery dispatch" + ansiReset + ansiDim + "  mode=" + mode + ansiReset)
	fmt.Println(ansiDim + "--------------------------------------------------------------" + ansiReset)
}
