package repository

import (
	"errors"

	"github.com/entrega-next/internal/constants"
	"github.com/entrega-next/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RefundIntentRepository 退款意图数据访问接口
type RefundIntentRepository interface {
	CreateOnce(intent *models.RefundIntent) (*models.RefundIntent, error)
	GetByID(id uint) (*models.RefundIntent, error)
	GetByOrderID(orderID uint) (*models.RefundIntent, error)
	ListPending(limit int) ([]models.RefundIntent, error)
	Finish(id uint, status string, updates map[string]interface{}) (bool, error)
	RecordAttempt(id uint, lastError string) error
	WithTx(tx *gorm.DB) *GormRefundIntentRepository
}

// GormRefundIntentRepository GORM 实现
type GormRefundIntentRepository struct {
	db *gorm.DB
}

// NewRefundIntentRepository 创建退款意图仓库
func NewRefundIntentRepository(db *gorm.DB) *GormRefundIntentRepository {
	return &GormRefundIntentRepository{db: db}
}

// WithTx 绑定事务
func (r *GormRefundIntentRepository) WithTx(tx *gorm.DB) *GormRefundIntentRepository {
	if tx == nil {
		return r
	}
	return &GormRefundIntentRepository{db: tx}
}

// CreateOnce 每个订单只登记一次退款意图
func (r *GormRefundIntentRepository) CreateOnce(intent *models.RefundIntent) (*models.RefundIntent, error) {
	if intent == nil || intent.OrderID == 0 {
		return nil, errors.New("refund intent order id is required")
	}
	if intent.Status == "" {
		intent.Status = constants.RefundIntentStatusPending
	}
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoNothing: true,
	}).Create(intent)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 1 {
		return intent, nil
	}
	return r.GetByOrderID(intent.OrderID)
}

// GetByID 根据 ID 获取退款意图
func (r *GormRefundIntentRepository) GetByID(id uint) (*models.RefundIntent, error) {
	var intent models.RefundIntent
	if err := r.db.First(&intent, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &intent, nil
}

// GetByOrderID 根据订单获取退款意图
func (r *GormRefundIntentRepository) GetByOrderID(orderID uint) (*models.RefundIntent, error) {
	var intent models.RefundIntent
	result := r.db.Where("order_id = ?", orderID).Limit(1).Find(&intent)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &intent, nil
}

// ListPending 列出待处理的退款意图
func (r *GormRefundIntentRepository) ListPending(limit int) ([]models.RefundIntent, error) {
	if limit <= 0 {
		limit = 50
	}
	var intents []models.RefundIntent
	if err := r.db.Where("status = ?", constants.RefundIntentStatusPending).
		Order("id asc").Limit(limit).Find(&intents).Error; err != nil {
		return nil, err
	}
	return intents, nil
}

// Finish 从 pending 结束退款意图
func (r *GormRefundIntentRepository) Finish(id uint, status string, updates map[string]interface{}) (bool, error) {
	values := map[string]interface{}{"status": status}
	for key, value := range updates {
		values[key] = value
	}
	result := r.db.Model(&models.RefundIntent{}).
		Where("id = ? AND status = ?", id, constants.RefundIntentStatusPending).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// RecordAttempt 记录一次失败的处理
func (r *GormRefundIntentRepository) RecordAttempt(id uint, lastError string) error {
	return r.db.Model(&models.RefundIntent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"attempts":   gorm.Expr("attempts + ?", 1),
		"last_error": lastError,
	}).Error
}
