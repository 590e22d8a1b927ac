package models

import "time"

// Delivery 配送执行记录（订单进入 ASSIGNED 时创建）
type Delivery struct {
	ID                uint       `gorm:"primarykey" json:"id"`                                          // 主键
	OrderID           uint       `gorm:"uniqueIndex:idx_delivery_order_attempt;not null" json:"order_id"` // 订单ID
	Attempt           int        `gorm:"uniqueIndex:idx_delivery_order_attempt;not null" json:"attempt"`  // 第几次指派
	DriverID          uint       `gorm:"index;not null" json:"driver_id"`                               // 司机ID
	Status            string     `gorm:"type:varchar(32);index;not null" json:"status"`                 // 配送状态
	CurrentLat        *float64   `json:"current_lat,omitempty"`                                         // 实时纬度
	CurrentLng        *float64   `json:"current_lng,omitempty"`                                         // 实时经度
	PositionAt        *time.Time `json:"position_at,omitempty"`                                         // 位置上报时间
	AssignedAt        time.Time  `json:"assigned_at"`                                                   // 指派时间
	HeadingToPickupAt *time.Time `json:"heading_to_pickup_at,omitempty"`                                // 前往取件时间
	ArrivedPickupAt   *time.Time `json:"arrived_pickup_at,omitempty"`                                   // 到达取件点时间
	PickedUpAt        *time.Time `json:"picked_up_at,omitempty"`                                        // 取件时间
	InTransitAt       *time.Time `json:"in_transit_at,omitempty"`                                       // 开始运送时间
	ArrivedDeliveryAt *time.Time `json:"arrived_delivery_at,omitempty"`                                 // 到达送达点时间
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`                                        // 送达时间
	FailedAt          *time.Time `json:"failed_at,omitempty"`                                           // 失败时间
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`                                        // 取消时间
	ProofPhotoURL     string     `gorm:"type:text" json:"proof_photo_url,omitempty"`                    // 签收照片
	ProofSignatureURL string     `gorm:"type:text" json:"proof_signature_url,omitempty"`                // 签名图片
	RecipientName     string     `gorm:"type:varchar(120)" json:"recipient_name,omitempty"`             // 签收人
	DeliveryNotes     string     `gorm:"type:text" json:"delivery_notes,omitempty"`                     // 配送备注
	FailureReason     string     `gorm:"type:text" json:"failure_reason,omitempty"`                     // 失败原因
	RetryCount        int        `gorm:"not null;default:0" json:"retry_count"`                         // 累计失败次数
	DriverRating      *int       `json:"driver_rating,omitempty"`                                       // 用户给司机评分
	CustomerRating    *int       `json:"customer_rating,omitempty"`                                     // 司机给用户评分
	CreatedAt         time.Time  `gorm:"index" json:"created_at"`                                       // 创建时间
	UpdatedAt         time.Time  `json:"updated_at"`                                                    // 更新时间
}

// TableName 指定表名
func (Delivery) TableName() string {
	return "deliveries"
}
