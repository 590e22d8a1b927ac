package models

import (
	"time"

	"gorm.io/gorm"
)

// Order 配送订单表
type Order struct {
	ID                 uint           `gorm:"primarykey" json:"id"`                                         // 主键
	OrderNo            string         `gorm:"type:varchar(32);uniqueIndex;not null" json:"order_no"`        // 订单编号
	ConsumerID         uint           `gorm:"index;not null" json:"consumer_id"`                            // 下单用户ID
	MerchantID         *uint          `gorm:"index" json:"merchant_id,omitempty"`                           // 商户ID
	DriverID           *uint          `gorm:"index" json:"driver_id,omitempty"`                             // 司机ID（ASSIGNED 之后必填）
	Status             string         `gorm:"type:varchar(32);index;not null" json:"status"`                // 订单状态
	Priority           string         `gorm:"type:varchar(16);not null;default:'normal'" json:"priority"`   // 优先级
	ItemDescription    string         `gorm:"type:text" json:"item_description"`                            // 物品描述
	ItemCategory       string         `gorm:"type:varchar(32)" json:"item_category"`                        // 物品分类
	PickupAddress      string         `gorm:"type:text" json:"pickup_address"`                              // 取件地址
	PickupLat          *float64       `json:"pickup_lat,omitempty"`                                         // 取件纬度
	PickupLng          *float64       `json:"pickup_lng,omitempty"`                                         // 取件经度
	DeliveryAddress    string         `gorm:"type:text" json:"delivery_address"`                            // 送达地址
	DeliveryLat        *float64       `json:"delivery_lat,omitempty"`                                       // 送达纬度
	DeliveryLng        *float64       `json:"delivery_lng,omitempty"`                                       // 送达经度
	DistanceKm         float64        `json:"distance_km"`                                                  // 计算距离（公里）
	DurationMin        int            `json:"duration_min"`                                                 // 预计时长（分钟）
	BasePrice          Money          `gorm:"type:decimal(20,2);not null;default:0" json:"base_price"`      // 基础价格
	FinalPrice         Money          `gorm:"type:decimal(20,2);not null;default:0" json:"final_price"`     // 最终价格（PAID 后不可变）
	Currency           string         `gorm:"type:varchar(8);not null" json:"currency"`                     // 币种
	PriceFactors       PriceFactors   `gorm:"type:text" json:"price_factors"`                               // 报价明细
	IsScheduled        bool           `gorm:"not null;default:false" json:"is_scheduled"`                   // 是否预约
	ScheduledFor       *time.Time     `json:"scheduled_for,omitempty"`                                      // 预约时间
	Source             string         `gorm:"type:varchar(20)" json:"source"`                               // 来源渠道
	ThreadID           string         `gorm:"type:varchar(128)" json:"thread_id,omitempty"`                 // 会话线程ID
	PricingRef         string         `gorm:"type:varchar(128)" json:"pricing_ref,omitempty"`               // 报价服务关联ID
	CancellationReason string         `gorm:"type:text" json:"cancellation_reason,omitempty"`               // 取消原因
	QuoteGeneratedAt   *time.Time     `json:"quote_generated_at,omitempty"`                                 // 报价时间
	PaymentConfirmedAt *time.Time     `gorm:"index" json:"payment_confirmed_at,omitempty"`                  // 支付确认时间
	DriverAssignedAt   *time.Time     `json:"driver_assigned_at,omitempty"`                                 // 指派司机时间
	PickupStartedAt    *time.Time     `json:"pickup_started_at,omitempty"`                                  // 开始取件时间
	PickedUpAt         *time.Time     `json:"picked_up_at,omitempty"`                                       // 取件完成时间
	DeliveryStartedAt  *time.Time     `json:"delivery_started_at,omitempty"`                                // 开始配送时间
	DeliveredAt        *time.Time     `json:"delivered_at,omitempty"`                                       // 送达时间
	CancelledAt        *time.Time     `json:"cancelled_at,omitempty"`                                       // 取消时间
	FailedAt           *time.Time     `json:"failed_at,omitempty"`                                          // 失败时间
	RefundedAt         *time.Time     `json:"refunded_at,omitempty"`                                        // 退款时间
	CreatedAt          time.Time      `gorm:"index" json:"created_at"`                                      // 创建时间
	UpdatedAt          time.Time      `json:"updated_at"`                                                   // 更新时间
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`                                               // 软删除时间
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}
