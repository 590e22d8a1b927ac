package repository

import (
	"errors"

	"github.com/entrega-next/internal/constants"
	"github.com/entrega-next/internal/models"

	"gorm.io/gorm"
)

// DeliveryRepository 配送数据访问接口
type DeliveryRepository interface {
	Create(delivery *models.Delivery) error
	GetByID(id uint) (*models.Delivery, error)
	GetActiveByOrder(orderID uint) (*models.Delivery, error)
	GetLatestByOrder(orderID uint) (*models.Delivery, error)
	CountByOrder(orderID uint) (int64, error)
	TransitionStatus(id uint, from, to string, updates map[string]interface{}) (bool, error)
	UpdateFields(id uint, updates map[string]interface{}) error
	WithTx(tx *gorm.DB) *GormDeliveryRepository
}

// GormDeliveryRepository GORM 实现
type GormDeliveryRepository struct {
	db *gorm.DB
}

// NewDeliveryRepository 创建配送仓库
func NewDeliveryRepository(db *gorm.DB) *GormDeliveryRepository {
	return &GormDeliveryRepository{db: db}
}

// WithTx 绑定事务
func (r *GormDeliveryRepository) WithTx(tx *gorm.DB) *GormDeliveryRepository {
	if tx == nil {
		return r
	}
	return &GormDeliveryRepository{db: tx}
}

// Create 创建配送记录
func (r *GormDeliveryRepository) Create(delivery *models.Delivery) error {
	return r.db.Create(delivery).Error
}

// GetByID 根据 ID 获取配送记录
func (r *GormDeliveryRepository) GetByID(id uint) (*models.Delivery, error) {
	var delivery models.Delivery
	if err := r.db.First(&delivery, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &delivery, nil
}

// GetActiveByOrder 获取订单当前未终结的配送记录
func (r *GormDeliveryRepository) GetActiveByOrder(orderID uint) (*models.Delivery, error) {
	var delivery models.Delivery
	result := r.db.Where("order_id = ? AND status NOT IN ?", orderID, []string{
		constants.DeliveryStatusDelivered,
		constants.DeliveryStatusFailed,
		constants.DeliveryStatusCancelled,
	}).Order("attempt desc").Limit(1).Find(&delivery)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &delivery, nil
}

// GetLatestByOrder 获取订单最近一次配送记录
func (r *GormDeliveryRepository) GetLatestByOrder(orderID uint) (*models.Delivery, error) {
	var delivery models.Delivery
	result := r.db.Where("order_id = ?", orderID).Order("attempt desc").Limit(1).Find(&delivery)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &delivery, nil
}

// CountByOrder 统计订单的配送记录数
func (r *GormDeliveryRepository) CountByOrder(orderID uint) (int64, error) {
	var count int64
	if err := r.db.Model(&models.Delivery{}).Where("order_id = ?", orderID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// TransitionStatus 以当前状态为条件更新状态（CAS）
func (r *GormDeliveryRepository) TransitionStatus(id uint, from, to string, updates map[string]interface{}) (bool, error) {
	values := map[string]interface{}{"status": to}
	for key, value := range updates {
		values[key] = value
	}
	result := r.db.Model(&models.Delivery{}).Where("id = ? AND status = ?", id, from).Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// UpdateFields 更新非状态字段
func (r *GormDeliveryRepository) UpdateFields(id uint, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.Model(&models.Delivery{}).Where("id = ?", id).Updates(updates).Error
}
