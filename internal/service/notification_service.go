package service

import (
	"context"
	"strings"
	"time"

	"github.com/entrega-next/internal/config"
	"github.com/entrega-next/internal/constants"
	"github.com/entrega-next/internal/gateway"
	"github.com/entrega-next/internal/logger"
	"github.com/entrega-next/internal/models"
	"github.com/entrega-next/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultNotificationPriority   = 5
	defaultNotificationMaxRetries = 3
)

// ChannelSender 渠道发送器，成功时返回渠道消息 ID
type ChannelSender interface {
	Send(ctx context.Context, notification *models.Notification) (string, error)
}

// WhatsAppSender 通过消息渠道网关发送通知
type WhatsAppSender struct {
	messenger gateway.Messenger
}

// NewWhatsAppSender 创建 WhatsApp 发送器
func NewWhatsAppSender(messenger gateway.Messenger) *WhatsAppSender {
	return &WhatsAppSender{messenger: messenger}
}

// Send 按载荷类型发送
func (s *WhatsAppSender) Send(ctx context.Context, notification *models.Notification) (string, error) {
	payload := notification.Payload
	to := notification.Recipient
	switch payload.Kind {
	case constants.NotificationKindInteractive:
		buttons := make([]gateway.Button, 0, len(payload.Buttons))
		for _, button := range payload.Buttons {
			buttons = append(buttons, gateway.Button{ID: button.ID, Title: button.Title})
		}
		return s.messenger.SendInteractive(ctx, to, gateway.InteractiveMessage{
			Body:    firstNonEmpty(payload.Body, notification.Content),
			Header:  payload.Header,
			Footer:  payload.Footer,
			Buttons: buttons,
		})
	case constants.NotificationKindLocation:
		return s.messenger.SendLocation(ctx, to, gateway.LocationMessage{
			Latitude:  payload.Latitude,
			Longitude: payload.Longitude,
			Name:      payload.Name,
			Address:   payload.Address,
		})
	default:
		return s.messenger.SendText(ctx, to, firstNonEmpty(payload.Body, notification.Content))
	}
}

// NotificationService 出站通知分发（持久化、退避重试、单次在途）
type NotificationService struct {
	db           *gorm.DB
	repo         repository.NotificationRepository
	queue        TaskEnqueuer
	senders      map[string]ChannelSender
	maxRetries   int
	backoffBase  time.Duration
	backoffMax   time.Duration
	sendingLease time.Duration
	batchSize    int
	now          func() time.Time
}

// NewNotificationService 创建通知服务
func NewNotificationService(db *gorm.DB, repo repository.NotificationRepository, queue TaskEnqueuer, cfg config.NotificationConfig, senders map[string]ChannelSender) *NotificationService {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultNotificationMaxRetries
	}
	if senders == nil {
		senders = map[string]ChannelSender{}
	}
	return &NotificationService{
		db:           db,
		repo:         repo,
		queue:        queue,
		senders:      senders,
		maxRetries:   maxRetries,
		backoffBase:  cfg.BackoffBase(),
		backoffMax:   cfg.BackoffMax(),
		sendingLease: cfg.SendingLease(),
		batchSize:    cfg.BatchSize,
		now:          time.Now,
	}
}

// NotificationInput 新建通知参数
type NotificationInput struct {
	UserID    uint
	OrderID   *uint
	Channel   string
	Recipient string
	Content   string
	Payload   models.NotificationPayload
	Priority  int
	DedupKey  string
}

// Get 获取通知
func (s *NotificationService) Get(ctx context.Context, id uint) (*models.Notification, error) {
	notification, err := s.repo.WithTx(s.db.WithContext(ctx)).GetByID(id)
	if err != nil {
		return nil, err
	}
	if notification == nil {
		return nil, ErrNotificationNotFound
	}
	return notification, nil
}

// Enqueue 持久化通知并投递首次发送任务；相同去重键只会创建一次
func (s *NotificationService) Enqueue(ctx context.Context, input NotificationInput) (*models.Notification, error) {
	channel := strings.ToLower(strings.TrimSpace(input.Channel))
	if channel == "" {
		channel = constants.NotificationChannelWhatsApp
	}
	priority := input.Priority
	if priority <= 0 {
		priority = defaultNotificationPriority
	}
	if priority > 10 {
		priority = 10
	}
	dedupKey := strings.TrimSpace(input.DedupKey)
	if dedupKey == "" {
		dedupKey = uuid.NewString()
	}
	payload := input.Payload
	payload.SchemaVersion = constants.NotificationPayloadSchemaVersion
	if payload.Kind == "" {
		payload.Kind = constants.NotificationKindText
	}
	content := input.Content
	if content == "" {
		content = payload.Body
	}

	notification := &models.Notification{
		UserID:     input.UserID,
		OrderID:    input.OrderID,
		Channel:    channel,
		Status:     constants.NotificationStatusPending,
		Recipient:  strings.TrimSpace(input.Recipient),
		Content:    content,
		Payload:    payload,
		Priority:   priority,
		MaxRetries: s.maxRetries,
		DedupKey:   dedupKey,
	}
	stored, created, err := s.repo.WithTx(s.db.WithContext(ctx)).CreateOnce(notification)
	if err != nil {
		return nil, err
	}
	if !created {
		return stored, nil
	}
	if s.queue != nil {
		if err := s.queue.EnqueueNotificationDispatch(stored.ID, 0, 0); err != nil {
			logger.Warnw("notification_enqueue_failed", "notification_id", stored.ID, "error", err)
		}
	}
	return stored, nil
}

// SendText 排队一条文本消息
func (s *NotificationService) SendText(ctx context.Context, userID uint, orderID *uint, to, body string) (*models.Notification, error) {
	return s.Enqueue(ctx, NotificationInput{
		UserID:    userID,
		OrderID:   orderID,
		Recipient: to,
		Payload:   models.NotificationPayload{Kind: constants.NotificationKindText, Body: body},
	})
}

// SendInteractive 排队一条交互按钮消息
func (s *NotificationService) SendInteractive(ctx context.Context, userID uint, orderID *uint, to string, msg gateway.InteractiveMessage) (*models.Notification, error) {
	buttons := make([]models.InteractiveButton, 0, len(msg.Buttons))
	for _, button := range msg.Buttons {
		buttons = append(buttons, models.InteractiveButton{ID: button.ID, Title: button.Title})
	}
	return s.Enqueue(ctx, NotificationInput{
		UserID:    userID,
		OrderID:   orderID,
		Recipient: to,
		Priority:  7,
		Payload: models.NotificationPayload{
			Kind:    constants.NotificationKindInteractive,
			Body:    msg.Body,
			Header:  msg.Header,
			Footer:  msg.Footer,
			Buttons: buttons,
		},
	})
}

// DispatchOne 执行一次发送尝试。
// 只有抢占成功（PENDING 且到期 -> SENDING）的调用者会真正发送，保证同一通知最多一个在途尝试。
func (s *NotificationService) DispatchOne(ctx context.Context, id uint) error {
	repo := s.repo.WithTx(s.db.WithContext(ctx))
	notification, err := repo.GetByID(id)
	if err != nil {
		return err
	}
	if notification == nil {
		return ErrNotificationNotFound
	}
	log := logger.Component("notification", "notification_id", id, "channel", notification.Channel)
	now := s.now()
	claimed, err := repo.ClaimForSending(id, now)
	if err != nil {
		return err
	}
	if !claimed {
		log.Debugw("notification_dispatch_skipped", "status", notification.Status)
		return nil
	}

	var messageID string
	var sendErr error
	if sender, ok := s.senders[notification.Channel]; ok {
		messageID, sendErr = sender.Send(ctx, notification)
	} else {
		sendErr = ErrChannelUnsupported
	}
	if sendErr == nil {
		if _, err := repo.MarkSent(id, messageID, s.now()); err != nil {
			return err
		}
		log.Infow("notification_sent", "provider_message_id", messageID)
		return nil
	}

	// retry_count 不超过 max_retries；用尽后的失败即终态
	if notification.RetryCount < notification.MaxRetries {
		delay := Backoff(s.backoffBase, s.backoffMax, notification.RetryCount)
		retryCount := notification.RetryCount + 1
		if _, err := repo.ScheduleRetry(id, retryCount, now.Add(delay), sendErr.Error()); err != nil {
			return err
		}
		log.Warnw("notification_dispatch_failed", "retry_count", retryCount, "delay", delay, "error", sendErr)
		if s.queue != nil {
			if err := s.queue.EnqueueNotificationDispatch(id, retryCount, delay); err != nil {
				log.Warnw("notification_enqueue_failed", "error", err)
			}
		}
		return nil
	}
	if _, err := repo.MarkFailed(id, notification.RetryCount, sendErr.Error(), s.now()); err != nil {
		return err
	}
	log.Errorw("notification_dispatch_exhausted", "retry_count", notification.RetryCount, "error", sendErr)
	return nil
}

// Backoff 指数退避：base × 2^retryCount，不超过 max
func Backoff(base, max time.Duration, retryCount int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// RescanDue 崩溃恢复扫描：回收租约超时的 SENDING，再发送所有到期的 PENDING
func (s *NotificationService) RescanDue(ctx context.Context) (int, error) {
	repo := s.repo.WithTx(s.db.WithContext(ctx))
	now := s.now()
	reclaimed, err := repo.ReclaimStaleSending(now.Add(-s.sendingLease))
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		logger.Warnw("notification_sending_reclaimed", "count", reclaimed)
	}
	due, err := repo.ListDue(now, s.batchSize)
	if err != nil {
		return 0, err
	}
	dispatched := 0
	for _, notification := range due {
		if err := s.DispatchOne(ctx, notification.ID); err != nil {
			logger.Warnw("notification_rescan_dispatch_failed", "notification_id", notification.ID, "error", err)
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

// ApplyProviderStatus 渠道回执：SENT -> DELIVERED -> READ，只前进不回退
func (s *NotificationService) ApplyProviderStatus(ctx context.Context, status gateway.MessageStatus) error {
	repo := s.repo.WithTx(s.db.WithContext(ctx))
	notification, err := repo.GetByProviderMessageID(status.MessageID)
	if err != nil {
		return err
	}
	if notification == nil {
		logger.Debugw("notification_status_unmatched", "provider_message_id", status.MessageID, "status", status.Status)
		return nil
	}
	at := status.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	switch strings.ToLower(strings.TrimSpace(status.Status)) {
	case "delivered":
		_, err = repo.AdvanceStatus(notification.ID,
			[]string{constants.NotificationStatusSent},
			constants.NotificationStatusDelivered,
			map[string]interface{}{"delivered_at": at},
		)
	case "read":
		updates := map[string]interface{}{"read_at": at}
		if notification.DeliveredAt == nil {
			updates["delivered_at"] = at
		}
		_, err = repo.AdvanceStatus(notification.ID,
			[]string{constants.NotificationStatusSent, constants.NotificationStatusDelivered},
			constants.NotificationStatusRead,
			updates,
		)
	case "failed":
		logger.Warnw("notification_provider_failed",
			"notification_id", notification.ID,
			"provider_message_id", status.MessageID,
			"error", status.ErrorText,
		)
	}
	return err
}

// Cancel 取消尚未发送的通知
func (s *NotificationService) Cancel(ctx context.Context, id uint) error {
	repo := s.repo.WithTx(s.db.WithContext(ctx))
	ok, err := repo.AdvanceStatus(id, []string{constants.NotificationStatusPending}, constants.NotificationStatusCancelled, map[string]interface{}{"next_retry_at": nil})
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrInvalidTransition
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
