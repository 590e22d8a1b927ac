package models

import "time"

// RefundIntent 退款意图（订单取消/失败时与状态迁移同事务写入）
type RefundIntent struct {
	ID          uint       `gorm:"primarykey" json:"id"`                          // 主键
	OrderID     uint       `gorm:"uniqueIndex;not null" json:"order_id"`          // 订单ID
	Reason      string     `gorm:"type:text" json:"reason"`                       // 退款原因
	Status      string     `gorm:"type:varchar(20);index;not null" json:"status"` // pending / done / skipped
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`            // 处理次数
	LastError   string     `gorm:"type:text" json:"last_error,omitempty"`         // 最近错误
	ProcessedAt *time.Time `json:"processed_at,omitempty"`                        // 处理完成时间
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`                       // 创建时间
	UpdatedAt   time.Time  `json:"updated_at"`                                    // 更新时间
}

// TableName 指定表名
func (RefundIntent) TableName() string {
	return "refund_intents"
}
