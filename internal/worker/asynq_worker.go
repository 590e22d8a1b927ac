package worker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/entrega-next/internal/logger"
	"github.com/entrega-next/internal/provider"
	"github.com/entrega-next/internal/queue"
	"github.com/entrega-next/internal/service"

	"github.com/hibiken/asynq"
)

// NotificationDispatcher 通知发送入口
type NotificationDispatcher interface {
	DispatchOne(ctx context.Context, id uint) error
}

// PaymentTasks 支付相关的后台任务入口
type PaymentTasks interface {
	HandleExpiry(ctx context.Context, paymentID uint) error
	ProcessRefundIntent(ctx context.Context, intentID uint) error
}

// Consumer 异步任务消费者
type Consumer struct {
	notifications NotificationDispatcher
	payments      PaymentTasks
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	if c == nil {
		return &Consumer{}
	}
	consumer := &Consumer{}
	if c.NotificationService != nil {
		consumer.notifications = c.NotificationService
	}
	if c.PaymentService != nil {
		consumer.payments = c.PaymentService
	}
	return consumer
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskNotificationDispatch, c.handleNotificationDispatch)
	mux.HandleFunc(queue.TaskRefundIntent, c.handleRefundIntent)
	mux.HandleFunc(queue.TaskPaymentExpire, c.handlePaymentExpire)
}

func (c *Consumer) handleNotificationDispatch(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_notification_dispatch_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.NotificationDispatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_notification_dispatch_unmarshal_failed", "error", err)
		return err
	}
	if payload.NotificationID == 0 {
		logger.Debugw("worker_notification_dispatch_skip_invalid_payload", "notification_id", payload.NotificationID)
		return nil
	}
	if c.notifications == nil {
		logger.Warnw("worker_notification_dispatch_skip_service_nil", "notification_id", payload.NotificationID)
		return nil
	}
	// 发送失败的退避由通知自身记录并重新入队，这里只在存储出错时让 asynq 重试
	if err := c.notifications.DispatchOne(ctx, payload.NotificationID); err != nil {
		if errors.Is(err, service.ErrNotificationNotFound) {
			logger.Debugw("worker_notification_dispatch_skip_not_found", "notification_id", payload.NotificationID)
			return nil
		}
		logger.Warnw("worker_notification_dispatch_failed",
			"notification_id", payload.NotificationID,
			"retry_count", payload.RetryCount,
			"error", err,
		)
		return err
	}
	return nil
}

func (c *Consumer) handleRefundIntent(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_refund_intent_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.RefundIntentPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_refund_intent_unmarshal_failed", "error", err)
		return err
	}
	if payload.IntentID == 0 {
		logger.Debugw("worker_refund_intent_skip_invalid_payload", "intent_id", payload.IntentID)
		return nil
	}
	if c.payments == nil {
		logger.Warnw("worker_refund_intent_skip_service_nil", "intent_id", payload.IntentID)
		return nil
	}
	if err := c.payments.ProcessRefundIntent(ctx, payload.IntentID); err != nil {
		logger.Warnw("worker_refund_intent_failed", "intent_id", payload.IntentID, "error", err)
		return err
	}
	return nil
}

func (c *Consumer) handlePaymentExpire(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_payment_expire_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.PaymentExpirePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_payment_expire_unmarshal_failed", "error", err)
		return err
	}
	if payload.PaymentID == 0 {
		logger.Debugw("worker_payment_expire_skip_invalid_payload", "payment_id", payload.PaymentID)
		return nil
	}
	if c.payments == nil {
		logger.Warnw("worker_payment_expire_skip_service_nil", "payment_id", payload.PaymentID)
		return nil
	}
	err := c.payments.HandleExpiry(ctx, payload.PaymentID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaymentNotFound):
			logger.Debugw("worker_payment_expire_skip_not_found", "payment_id", payload.PaymentID)
			return nil
		case errors.Is(err, service.ErrTransitionConflict):
			// 并发的 webhook 已经推进了状态
			logger.Debugw("worker_payment_expire_skip_conflict", "payment_id", payload.PaymentID)
			return nil
		default:
			logger.Warnw("worker_payment_expire_failed", "payment_id", payload.PaymentID, "error", err)
			return err
		}
	}
	return nil
}
