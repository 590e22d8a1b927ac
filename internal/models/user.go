package models

import (
	"time"

	"gorm.io/gorm"
)

// User 请求方（按渠道身份识别，目前为 WhatsApp 手机号）
type User struct {
	ID        uint           `gorm:"primarykey" json:"id"`                             // 主键
	Phone     string         `gorm:"type:varchar(32);uniqueIndex;not null" json:"phone"` // 渠道身份（手机号）
	Name      string         `gorm:"type:varchar(120)" json:"name"`                    // 显示名称
	Role      string         `gorm:"type:varchar(20);index;not null" json:"role"`      // 角色 customer/driver/merchant
	CreatedAt time.Time      `gorm:"index" json:"created_at"`                          // 创建时间
	UpdatedAt time.Time      `json:"updated_at"`                                       // 更新时间
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`                                   // 软删除时间
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}
