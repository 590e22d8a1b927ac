package models

import "time"

// Notification 出站通知（带重试与退避）
type Notification struct {
	ID                uint                `gorm:"primarykey" json:"id"`                                     // 主键
	UserID            uint                `gorm:"index;not null" json:"user_id"`                            // 接收用户
	OrderID           *uint               `gorm:"index" json:"order_id,omitempty"`                          // 关联订单
	Channel           string              `gorm:"type:varchar(20);not null" json:"channel"`                 // 渠道类型
	Status            string              `gorm:"type:varchar(20);index:idx_notification_due;not null" json:"status"` // 通知状态
	Recipient         string              `gorm:"type:varchar(255);not null" json:"recipient"`              // 渠道地址
	Content           string              `gorm:"type:text" json:"content"`                                 // 文本内容
	Payload           NotificationPayload `gorm:"type:text" json:"payload"`                                 // 结构化内容
	Priority          int                 `gorm:"not null;default:5" json:"priority"`                       // 优先级 1-10
	RetryCount        int                 `gorm:"not null;default:0" json:"retry_count"`                    // 已重试次数
	MaxRetries        int                 `gorm:"not null;default:3" json:"max_retries"`                    // 最大重试次数
	NextRetryAt       *time.Time          `gorm:"index:idx_notification_due" json:"next_retry_at,omitempty"` // 下次重试时间
	LastError         string              `gorm:"type:text" json:"last_error,omitempty"`                    // 最近错误
	ProviderMessageID string              `gorm:"type:varchar(128);index" json:"provider_message_id,omitempty"` // 渠道消息ID
	DedupKey          string              `gorm:"type:varchar(64);uniqueIndex;not null" json:"dedup_key"`   // 去重键
	SendingAt         *time.Time          `json:"sending_at,omitempty"`                                     // 最近一次开始发送时间
	SentAt            *time.Time          `json:"sent_at,omitempty"`                                        // 发送成功时间
	DeliveredAt       *time.Time          `json:"delivered_at,omitempty"`                                   // 送达时间
	ReadAt            *time.Time          `json:"read_at,omitempty"`                                        // 已读时间
	FailedAt          *time.Time          `json:"failed_at,omitempty"`                                      // 最终失败时间
	CreatedAt         time.Time           `gorm:"index" json:"created_at"`                                  // 创建时间
	UpdatedAt         time.Time           `json:"updated_at"`                                               // 更新时间
}

// TableName 指定表名
func (Notification) TableName() string {
	return "notifications"
}
