package models

import "time"

// InboundEvent 已处理的入站 webhook 事件，用于至少一次投递下的去重
type InboundEvent struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	Source     string    `gorm:"type:varchar(32);uniqueIndex:idx_inbound_source_external;not null" json:"source"`
	ExternalID string    `gorm:"type:varchar(191);uniqueIndex:idx_inbound_source_external;not null" json:"external_id"`
	Orphan     bool      `gorm:"not null;default:false" json:"orphan"` // 未匹配到任何记录
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// TableName 指定表名
func (InboundEvent) TableName() string {
	return "inbound_events"
}
