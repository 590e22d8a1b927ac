package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/entrega-next/internal/config"
	"github.com/entrega-next/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// DefaultQueue 默认队列名称
	DefaultQueue = constants.QueueDefault
	// CriticalQueue 支付相关任务队列
	CriticalQueue = constants.QueueCritical
)

// Client 队列客户端封装
type Client struct {
	client       *asynq.Client
	enabled      bool
	defaultQueue string
}

// NewClient 创建队列客户端
func NewClient(cfg *config.QueueConfig) (*Client, error) {
	if cfg == nil || !cfg.Enabled {
		return &Client{enabled: false, defaultQueue: DefaultQueue}, nil
	}
	opt := buildRedisOpt(cfg)
	client := asynq.NewClient(opt)
	return &Client{
		client:       client,
		enabled:      true,
		defaultQueue: DefaultQueue,
	}, nil
}

// Enabled 判断是否启用
func (c *Client) Enabled() bool {
	return c != nil && c.enabled && c.client != nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueNotificationDispatch 推送通知发送任务；同一通知同一重试轮次只入队一次，失败重试由通知自身的退避负责
func (c *Client) EnqueueNotificationDispatch(notificationID uint, retryCount int, delay time.Duration) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewNotificationDispatchTask(NotificationDispatchPayload{NotificationID: notificationID, RetryCount: retryCount})
	if err != nil {
		return err
	}
	options := []asynq.Option{
		asynq.Queue(c.defaultQueue),
		asynq.TaskID(fmt.Sprintf("notification:%d:%d", notificationID, retryCount)),
		asynq.MaxRetry(0),
		asynq.ProcessIn(nonNegative(delay)),
	}
	return ignoreDuplicate(c.enqueue(task, options...))
}

// EnqueueRefundIntent 推送退款意图处理任务
func (c *Client) EnqueueRefundIntent(intentID uint) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewRefundIntentTask(RefundIntentPayload{IntentID: intentID})
	if err != nil {
		return err
	}
	options := []asynq.Option{
		asynq.Queue(CriticalQueue),
		asynq.TaskID(fmt.Sprintf("refund_intent:%d", intentID)),
		asynq.MaxRetry(5),
	}
	return ignoreDuplicate(c.enqueue(task, options...))
}

// EnqueuePaymentExpire 推送支付过期检查任务
func (c *Client) EnqueuePaymentExpire(paymentID uint, delay time.Duration) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewPaymentExpireTask(PaymentExpirePayload{PaymentID: paymentID})
	if err != nil {
		return err
	}
	delay = nonNegative(delay)
	options := []asynq.Option{
		asynq.Queue(CriticalQueue),
		asynq.TaskID(fmt.Sprintf("payment_expire:%d:%d", paymentID, time.Now().Add(delay).Unix())),
		asynq.ProcessIn(delay),
	}
	return ignoreDuplicate(c.enqueue(task, options...))
}

func (c *Client) enqueue(task *asynq.Task, opts ...asynq.Option) error {
	_, err := c.client.Enqueue(task, opts...)
	return err
}

// BuildServerConfig 生成队列服务配置
func BuildServerConfig(cfg *config.QueueConfig) (asynq.RedisClientOpt, asynq.Config) {
	opt := buildRedisOpt(cfg)
	concurrency := 10
	if cfg != nil && cfg.Concurrency > 0 {
		concurrency = cfg.Concurrency
	}
	queues := map[string]int{CriticalQueue: 2, DefaultQueue: 1}
	if cfg != nil && len(cfg.Queues) > 0 {
		queues = cfg.Queues
	}
	return opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      queues,
	}
}

func buildRedisOpt(cfg *config.QueueConfig) asynq.RedisClientOpt {
	host := "127.0.0.1"
	port := 6379
	password := ""
	db := 0
	if cfg != nil {
		if strings.TrimSpace(cfg.Host) != "" {
			host = strings.TrimSpace(cfg.Host)
		}
		if cfg.Port > 0 {
			port = cfg.Port
		}
		password = cfg.Password
		db = cfg.DB
	}
	return asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	}
}

func ignoreDuplicate(err error) error {
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

func nonNegative(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	return delay
}
