package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/entrega-next/internal/logger"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Queue        QueueConfig        `mapstructure:"queue"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Pricing      PricingConfig      `mapstructure:"pricing"`
	Session      SessionConfig      `mapstructure:"session"`
	Delivery     DeliveryConfig     `mapstructure:"delivery"`
	Notification NotificationConfig `mapstructure:"notification"`
	Payment      PaymentConfig      `mapstructure:"payment"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
	WhatsApp     WhatsAppConfig     `mapstructure:"whatsapp"`
	Assistant    AssistantConfig    `mapstructure:"assistant"`
	PagSeguro    PagSeguroConfig    `mapstructure:"pagseguro"`
	Security     SecurityConfig     `mapstructure:"security"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// DatabasePoolConfig 数据库连接池配置
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string             `mapstructure:"driver"` // sqlite / postgres
	DSN    string             `mapstructure:"dsn"`
	Pool   DatabasePoolConfig `mapstructure:"pool"`
}

// RedisConfig Redis 配置（会话/报价缓存、限流）
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 异步队列配置
type QueueConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Password    string         `mapstructure:"password"`
	DB          int            `mapstructure:"db"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
}

// NATSConfig 订单事件广播配置
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// PricingConfig 报价参数
type PricingConfig struct {
	PerKmRate  string `mapstructure:"per_km_rate"`
	MarkupRate string `mapstructure:"markup_rate"`
	MinPrice   string `mapstructure:"min_price"`
	MaxPrice   string `mapstructure:"max_price"`
	Currency   string `mapstructure:"currency"`
	ZoneKey    string `mapstructure:"zone_key"`
}

// SessionConfig 会话缓存配置
type SessionConfig struct {
	ThreadTTLHours  int `mapstructure:"thread_ttl_hours"`
	QuoteTTLMinutes int `mapstructure:"quote_ttl_minutes"`
}

// ThreadTTL 会话线程缓存时长
func (c SessionConfig) ThreadTTL() time.Duration {
	if c.ThreadTTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.ThreadTTLHours) * time.Hour
}

// QuoteTTL 报价缓存时长
func (c SessionConfig) QuoteTTL() time.Duration {
	if c.QuoteTTLMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.QuoteTTLMinutes) * time.Minute
}

// DeliveryConfig 配送配置
type DeliveryConfig struct {
	MaxReassignments int     `mapstructure:"max_reassignments"`
	AverageSpeedKmh  float64 `mapstructure:"average_speed_kmh"`
}

// NotificationConfig 通知重试配置
type NotificationConfig struct {
	MaxRetries          int    `mapstructure:"max_retries"`
	BackoffBaseSeconds  int    `mapstructure:"backoff_base_seconds"`
	BackoffMaxSeconds   int    `mapstructure:"backoff_max_seconds"`
	RescanSpec          string `mapstructure:"rescan_spec"`
	SendingLeaseSeconds int    `mapstructure:"sending_lease_seconds"`
	BatchSize           int    `mapstructure:"batch_size"`
}

// BackoffBase 退避基数
func (c NotificationConfig) BackoffBase() time.Duration {
	return secondsOr(c.BackoffBaseSeconds, 30*time.Second)
}

// BackoffMax 退避上限
func (c NotificationConfig) BackoffMax() time.Duration {
	return secondsOr(c.BackoffMaxSeconds, time.Hour)
}

// SendingLease 发送中状态的租约时长
func (c NotificationConfig) SendingLease() time.Duration {
	return secondsOr(c.SendingLeaseSeconds, 2*time.Minute)
}

// PaymentConfig 支付配置
type PaymentConfig struct {
	ExpireMinutes int    `mapstructure:"expire_minutes"`
	Method        string `mapstructure:"method"`
	RescanSpec    string `mapstructure:"rescan_spec"` // 退款意图与过期支付的兜底扫描
	BatchSize     int    `mapstructure:"batch_size"`
}

// ExpireAfter 支付过期时长
func (c PaymentConfig) ExpireAfter() time.Duration {
	if c.ExpireMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.ExpireMinutes) * time.Minute
}

// GatewayConfig 外部调用策略
type GatewayConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	RetryMaxAttempts int `mapstructure:"retry_max_attempts"`
}

// Timeout 单次外部调用超时
func (c GatewayConfig) Timeout() time.Duration {
	return secondsOr(c.TimeoutSeconds, 15*time.Second)
}

// WhatsAppConfig WhatsApp Cloud API 配置
type WhatsAppConfig struct {
	APIURL        string `mapstructure:"api_url"`
	PhoneNumberID string `mapstructure:"phone_number_id"`
	AccessToken   string `mapstructure:"access_token"`
	VerifyToken   string `mapstructure:"verify_token"`
	AppSecret     string `mapstructure:"app_secret"`
}

// AssistantConfig 对话助手配置
type AssistantConfig struct {
	APIURL         string `mapstructure:"api_url"`
	APIKey         string `mapstructure:"api_key"`
	AssistantID    string `mapstructure:"assistant_id"`
	PollIntervalMS int    `mapstructure:"poll_interval_ms"`
	MaxPolls       int    `mapstructure:"max_polls"`
	TurnTimeoutSec int    `mapstructure:"turn_timeout_seconds"`
}

// PollInterval 运行状态轮询间隔
func (c AssistantConfig) PollInterval() time.Duration {
	if c.PollIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// TurnTimeout 单轮对话（含工具调用与轮询）的总超时
func (c AssistantConfig) TurnTimeout() time.Duration {
	return secondsOr(c.TurnTimeoutSec, 45*time.Second)
}

// PagSeguroConfig PagSeguro 配置
type PagSeguroConfig struct {
	APIURL          string `mapstructure:"api_url"`
	Token           string `mapstructure:"token"`
	NotificationURL string `mapstructure:"notification_url"`
	WebhookToken    string `mapstructure:"webhook_token"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	InboundRateLimit RateLimitConfig `mapstructure:"inbound_rate_limit"` // 按发送方号码
	APIRateLimit     RateLimitConfig `mapstructure:"api_rate_limit"`     // 运营接口按 IP
}

// RateLimitConfig 固定窗口限流配置
type RateLimitConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRequests   int `mapstructure:"max_requests"`
}

// Load 从 config.yml 与环境变量加载配置
func Load() *Config {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../") // 从 cmd/server 运行时
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // server.port -> SERVER_PORT

	if err := v.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", v.ConfigFileUsed())
	}

	cfg, err := decode(v)
	if err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("config unmarshal failed: %w", err))
	}
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")

	v.SetDefault("log.dir", "")
	v.SetDefault("log.filename", "entrega.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./db/entrega.db")
	v.SetDefault("database.pool.max_open_conns", 1)
	v.SetDefault("database.pool.max_idle_conns", 1)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "entrega")

	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.host", "127.0.0.1")
	v.SetDefault("queue.port", 6379)
	v.SetDefault("queue.db", 1)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.queues", map[string]int{
		"critical": 6,
		"default":  3,
	})

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject_prefix", "entrega")

	v.SetDefault("pricing.per_km_rate", "2.50")
	v.SetDefault("pricing.markup_rate", "0.10")
	v.SetDefault("pricing.min_price", "5.00")
	v.SetDefault("pricing.max_price", "100.00")
	v.SetDefault("pricing.currency", "BRL")
	v.SetDefault("pricing.zone_key", "curitiba.urbana")

	v.SetDefault("session.thread_ttl_hours", 24)
	v.SetDefault("session.quote_ttl_minutes", 30)

	v.SetDefault("delivery.max_reassignments", 3)
	v.SetDefault("delivery.average_speed_kmh", 25)

	v.SetDefault("notification.max_retries", 3)
	v.SetDefault("notification.backoff_base_seconds", 30)
	v.SetDefault("notification.backoff_max_seconds", 3600)
	v.SetDefault("notification.rescan_spec", "@every 30s")
	v.SetDefault("notification.sending_lease_seconds", 120)
	v.SetDefault("notification.batch_size", 100)

	v.SetDefault("payment.expire_minutes", 30)
	v.SetDefault("payment.method", "pix")
	v.SetDefault("payment.rescan_spec", "@every 1m")
	v.SetDefault("payment.batch_size", 50)

	v.SetDefault("gateway.timeout_seconds", 15)
	v.SetDefault("gateway.retry_max_attempts", 3)

	v.SetDefault("whatsapp.api_url", "https://graph.facebook.com/v18.0")
	v.SetDefault("assistant.api_url", "https://api.openai.com/v1")
	v.SetDefault("assistant.poll_interval_ms", 500)
	v.SetDefault("assistant.max_polls", 60)
	v.SetDefault("assistant.turn_timeout_seconds", 45)
	v.SetDefault("pagseguro.api_url", "https://sandbox.api.pagseguro.com")

	v.SetDefault("security.inbound_rate_limit.window_seconds", 60)
	v.SetDefault("security.inbound_rate_limit.max_requests", 30)
	v.SetDefault("security.api_rate_limit.window_seconds", 60)
	v.SetDefault("security.api_rate_limit.max_requests", 120)
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
