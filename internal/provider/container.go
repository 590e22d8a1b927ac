package provider

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/entrega-next/internal/cache"
	"github.com/entrega-next/internal/config"
	"github.com/entrega-next/internal/constants"
	"github.com/entrega-next/internal/events"
	"github.com/entrega-next/internal/gateway"
	"github.com/entrega-next/internal/gateway/assistant"
	"github.com/entrega-next/internal/gateway/pagseguro"
	"github.com/entrega-next/internal/gateway/whatsapp"
	"github.com/entrega-next/internal/logger"
	"github.com/entrega-next/internal/queue"
	"github.com/entrega-next/internal/repository"
	"github.com/entrega-next/internal/service"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	DB          *gorm.DB
	RedisClient *redis.Client
	QueueClient *queue.Client
	Publisher   events.Publisher
	Sessions    *cache.SessionStore
	RateLimiter cache.RateLimiter
	APILimiter  cache.RateLimiter
	Locks       *service.KeyedLock

	// Repositories
	UserRepo         repository.UserRepository
	OrderRepo        repository.OrderRepository
	DeliveryRepo     repository.DeliveryRepository
	PaymentRepo      repository.PaymentRepository
	RefundIntentRepo repository.RefundIntentRepository
	InboundEventRepo repository.InboundEventRepository
	NotificationRepo repository.NotificationRepository

	// Gateways
	WhatsAppClient  *whatsapp.Client
	PagSeguroClient *pagseguro.Client
	AssistantClient *assistant.Client

	// Services
	Pricing             *service.Pricing
	OrderService        *service.OrderService
	DeliveryService     *service.DeliveryService
	PaymentService      *service.PaymentService
	NotificationService *service.NotificationService
	Orchestrator        *service.Orchestrator
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config, db *gorm.DB) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if db == nil {
		return nil, errors.New("database is nil")
	}
	c := &Container{
		Config: cfg,
		DB:     db,
		Locks:  service.NewKeyedLock(),
	}

	// 1. 初始化基础设施（缓存、队列、事件）
	if err := c.initInfrastructure(); err != nil {
		return nil, err
	}

	// 2. 初始化 Repositories
	c.initRepositories()

	// 3. 初始化外部网关
	c.initGateways()

	// 4. 初始化 Services
	if err := c.initServices(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Container) initInfrastructure() error {
	cfg := c.Config
	c.RedisClient = cache.NewRedisClient(&cfg.Redis)

	var store cache.Store
	rateRule := cache.RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:inbound", cfg.Redis.Prefix),
		WindowSeconds: cfg.Security.InboundRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.InboundRateLimit.MaxRequests,
	}
	apiRule := cache.RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:api", cfg.Redis.Prefix),
		WindowSeconds: cfg.Security.APIRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.APIRateLimit.MaxRequests,
	}
	if c.RedisClient != nil {
		store = cache.NewRedisStore(c.RedisClient, cfg.Redis.Prefix)
		c.RateLimiter = cache.NewRedisRateLimiter(c.RedisClient, rateRule)
		c.APILimiter = cache.NewRedisRateLimiter(c.RedisClient, apiRule)
	} else {
		logger.Warnw("provider_redis_disabled", "fallback", "memory")
		store = cache.NewMemoryStore()
		c.RateLimiter = cache.NewMemoryRateLimiter(rateRule)
		c.APILimiter = cache.NewMemoryRateLimiter(apiRule)
	}
	c.Sessions = cache.NewSessionStore(store, cfg.Session.ThreadTTL(), cfg.Session.QuoteTTL())

	queueClient, err := queue.NewClient(&cfg.Queue)
	if err != nil {
		logger.Errorw("provider_init_queue_client_failed", "error", err)
		return err
	}
	c.QueueClient = queueClient

	c.Publisher = events.NoopPublisher{}
	if cfg.NATS.Enabled {
		publisher, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			// 事件广播不是关键路径，连接失败降级为空实现
			logger.Warnw("provider_init_nats_failed", "url", cfg.NATS.URL, "error", err)
		} else {
			c.Publisher = publisher
		}
	}
	return nil
}

func (c *Container) initRepositories() {
	db := c.DB
	c.UserRepo = repository.NewUserRepository(db)
	c.OrderRepo = repository.NewOrderRepository(db)
	c.DeliveryRepo = repository.NewDeliveryRepository(db)
	c.PaymentRepo = repository.NewPaymentRepository(db)
	c.RefundIntentRepo = repository.NewRefundIntentRepository(db)
	c.InboundEventRepo = repository.NewInboundEventRepository(db)
	c.NotificationRepo = repository.NewNotificationRepository(db)
}

func (c *Container) initGateways() {
	cfg := c.Config
	httpClient := &http.Client{}
	c.WhatsAppClient = whatsapp.NewClient(whatsapp.Config{
		APIURL:        cfg.WhatsApp.APIURL,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		AccessToken:   cfg.WhatsApp.AccessToken,
		VerifyToken:   cfg.WhatsApp.VerifyToken,
		AppSecret:     cfg.WhatsApp.AppSecret,
	}, httpClient)
	c.PagSeguroClient = pagseguro.NewClient(pagseguro.Config{
		APIURL:          cfg.PagSeguro.APIURL,
		Token:           cfg.PagSeguro.Token,
		NotificationURL: cfg.PagSeguro.NotificationURL,
		WebhookToken:    cfg.PagSeguro.WebhookToken,
	}, httpClient)
	c.AssistantClient = assistant.NewClient(assistant.Config{
		APIURL:       cfg.Assistant.APIURL,
		APIKey:       cfg.Assistant.APIKey,
		AssistantID:  cfg.Assistant.AssistantID,
		PollInterval: cfg.Assistant.PollInterval(),
		MaxPolls:     cfg.Assistant.MaxPolls,
	}, httpClient)
}

func (c *Container) initServices() error {
	cfg := c.Config
	policies := gateway.Policies{
		Timeout:       cfg.Gateway.Timeout(),
		AssistantTurn: cfg.Assistant.TurnTimeout(),
		MaxAttempts:   cfg.Gateway.RetryMaxAttempts,
	}
	messenger := gateway.GuardMessenger(c.WhatsAppClient, policies)
	payments := gateway.GuardPayments(c.PagSeguroClient, policies)
	assistantGateway := gateway.GuardAssistant(c.AssistantClient, policies)

	pricing, err := service.NewPricing(cfg.Pricing)
	if err != nil {
		logger.Errorw("provider_init_pricing_failed", "error", err)
		return err
	}
	c.Pricing = pricing

	c.OrderService = service.NewOrderService(c.DB, c.OrderRepo, c.DeliveryRepo, c.RefundIntentRepo, c.Publisher, c.QueueClient, c.Locks)
	c.DeliveryService = service.NewDeliveryService(c.DB, c.DeliveryRepo, c.OrderService, c.Locks, cfg.Delivery.MaxReassignments)
	c.PaymentService = service.NewPaymentService(service.PaymentServiceDeps{
		DB:          c.DB,
		PaymentRepo: c.PaymentRepo,
		OrderRepo:   c.OrderRepo,
		UserRepo:    c.UserRepo,
		RefundRepo:  c.RefundIntentRepo,
		InboundRepo: c.InboundEventRepo,
		Orders:      c.OrderService,
		Gateway:     payments,
		Queue:       c.QueueClient,
		Locks:       c.Locks,
	}, cfg.Payment)
	c.NotificationService = service.NewNotificationService(c.DB, c.NotificationRepo, c.QueueClient, cfg.Notification, map[string]service.ChannelSender{
		constants.NotificationChannelWhatsApp: service.NewWhatsAppSender(messenger),
	})
	c.Orchestrator = service.NewOrchestrator(service.OrchestratorDeps{
		DB:            c.DB,
		UserRepo:      c.UserRepo,
		InboundRepo:   c.InboundEventRepo,
		Sessions:      c.Sessions,
		Assistant:     assistantGateway,
		Messenger:     messenger,
		Notifications: c.NotificationService,
		Orders:        c.OrderService,
		Payments:      c.PaymentService,
		Deliveries:    c.DeliveryService,
		Pricing:       c.Pricing,
		Locks:         c.Locks,
		AverageSpeed:  cfg.Delivery.AverageSpeedKmh,
	})
	return nil
}

// Close 释放外部连接
func (c *Container) Close() {
	if c == nil {
		return
	}
	if c.Publisher != nil {
		c.Publisher.Close()
	}
	if c.QueueClient != nil {
		if err := c.QueueClient.Close(); err != nil {
			logger.Warnw("provider_close_queue_client_failed", "error", err)
		}
	}
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			logger.Warnw("provider_close_redis_failed", "error", err)
		}
	}
}
