package models

import "time"

// Payment 支付记录（与订单一对一）
type Payment struct {
	ID                   uint       `gorm:"primarykey" json:"id"`                                           // 主键
	OrderID              uint       `gorm:"uniqueIndex;not null" json:"order_id"`                           // 订单ID
	Method               string     `gorm:"type:varchar(20);not null" json:"method"`                        // 支付方式
	Gateway              string     `gorm:"type:varchar(32);not null" json:"gateway"`                       // 支付网关
	Status               string     `gorm:"type:varchar(32);index;not null" json:"status"`                  // 支付状态
	AmountCents          int64      `gorm:"not null" json:"amount_cents"`                                   // 金额（分，创建后不可变）
	Currency             string     `gorm:"type:varchar(8);not null" json:"currency"`                       // 币种
	IdempotencyKey       string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"idempotency_key"`   // 网关幂等键
	GatewayTransactionID string     `gorm:"type:varchar(128);index" json:"gateway_transaction_id,omitempty"` // 网关交易ID
	GatewayChargeID      string     `gorm:"type:varchar(128)" json:"gateway_charge_id,omitempty"`           // 网关扣款ID
	PixCode              string     `gorm:"type:text" json:"pix_code,omitempty"`                            // PIX 复制粘贴码
	QRCode               string     `gorm:"type:text" json:"qr_code,omitempty"`                             // 二维码图片地址
	ExpiresAt            *time.Time `gorm:"index" json:"expires_at,omitempty"`                              // 过期时间
	GatewayFeeCents      int64      `gorm:"not null;default:0" json:"gateway_fee_cents"`                    // 网关手续费
	PlatformFeeCents     int64      `gorm:"not null;default:0" json:"platform_fee_cents"`                   // 平台服务费
	NetAmountCents       int64      `gorm:"not null;default:0" json:"net_amount_cents"`                     // 净收入
	RefundAmountCents    int64      `gorm:"not null;default:0" json:"refund_amount_cents"`                  // 退款金额
	RefundReason         string     `gorm:"type:text" json:"refund_reason,omitempty"`                       // 退款原因
	RefundTransactionID  string     `gorm:"type:varchar(128)" json:"refund_transaction_id,omitempty"`       // 退款流水号
	RefundedAt           *time.Time `json:"refunded_at,omitempty"`                                          // 退款时间
	FailureReason        string     `gorm:"type:text" json:"failure_reason,omitempty"`                      // 失败原因
	WebhookAttempts      int        `gorm:"not null;default:0" json:"webhook_attempts"`                     // 回调次数
	ProcessingAt         *time.Time `json:"processing_at,omitempty"`                                        // 网关受理时间
	CompletedAt          *time.Time `json:"completed_at,omitempty"`                                         // 完成时间
	FailedAt             *time.Time `json:"failed_at,omitempty"`                                            // 失败时间
	CancelledAt          *time.Time `json:"cancelled_at,omitempty"`                                         // 取消时间
	CreatedAt            time.Time  `gorm:"index" json:"created_at"`                                        // 创建时间
	UpdatedAt            time.Time  `json:"updated_at"`                                                     // 更新时间
}

// TableName 指定表名
func (Payment) TableName() string {
	return "payments"
}
