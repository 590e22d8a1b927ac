package queue

import (
	"encoding/json"

	"github.com/entrega-next/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskNotificationDispatch 通知发送任务
	TaskNotificationDispatch = constants.TaskNotificationDispatch
	// TaskRefundIntent 退款意图处理任务
	TaskRefundIntent = constants.TaskRefundIntent
	// TaskPaymentExpire 支付过期检查任务
	TaskPaymentExpire = constants.TaskPaymentExpire
)

// NotificationDispatchPayload 通知发送任务载荷
type NotificationDispatchPayload struct {
	NotificationID uint `json:"notification_id"`
	RetryCount     int  `json:"retry_count"`
}

// RefundIntentPayload 退款意图任务载荷
type RefundIntentPayload struct {
	IntentID uint `json:"intent_id"`
}

// PaymentExpirePayload 支付过期任务载荷
type PaymentExpirePayload struct {
	PaymentID uint `json:"payment_id"`
}

// NewNotificationDispatchTask 创建通知发送任务
func NewNotificationDispatchTask(payload NotificationDispatchPayload) (*asynq.Task, error) {
	return newTask(TaskNotificationDispatch, payload)
}

// NewRefundIntentTask 创建退款意图任务
func NewRefundIntentTask(payload RefundIntentPayload) (*asynq.Task, error) {
	return newTask(TaskRefundIntent, payload)
}

// NewPaymentExpireTask 创建支付过期任务
func NewPaymentExpireTask(payload PaymentExpirePayload) (*asynq.Task, error) {
	return newTask(TaskPaymentExpire, payload)
}

func newTask(taskType string, payload interface{}) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body), nil
}
