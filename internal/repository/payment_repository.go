package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/entrega-next/internal/constants"
	"github.com/entrega-next/internal/models"

	"gorm.io/gorm"
)

// PaymentRepository 支付数据访问接口
type PaymentRepository interface {
	Create(payment *models.Payment) error
	GetByID(id uint) (*models.Payment, error)
	GetByOrderID(orderID uint) (*models.Payment, error)
	GetByGatewayTransactionID(transactionID string) (*models.Payment, error)
	TransitionStatus(id uint, from, to string, updates map[string]interface{}) (bool, error)
	UpdateFields(id uint, updates map[string]interface{}) error
	IncrementWebhookAttempts(id uint) error
	ListExpired(before time.Time, limit int) ([]models.Payment, error)
	WithTx(tx *gorm.DB) *GormPaymentRepository
}

// GormPaymentRepository GORM 实现
type GormPaymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository 创建支付仓库
func NewPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

// WithTx 绑定事务
func (r *GormPaymentRepository) WithTx(tx *gorm.DB) *GormPaymentRepository {
	if tx == nil {
		return r
	}
	return &GormPaymentRepository{db: tx}
}

// Create 创建支付记录
func (r *GormPaymentRepository) Create(payment *models.Payment) error {
	return r.db.Create(payment).Error
}

// GetByID 根据 ID 获取支付记录
func (r *GormPaymentRepository) GetByID(id uint) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.First(&payment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// GetByOrderID 获取订单的支付记录
func (r *GormPaymentRepository) GetByOrderID(orderID uint) (*models.Payment, error) {
	var payment models.Payment
	result := r.db.Where("order_id = ?", orderID).Limit(1).Find(&payment)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &payment, nil
}

// GetByGatewayTransactionID 根据网关交易号获取支付记录
func (r *GormPaymentRepository) GetByGatewayTransactionID(transactionID string) (*models.Payment, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, nil
	}
	var payment models.Payment
	result := r.db.Where("gateway_transaction_id = ?", transactionID).Order("id desc").Limit(1).Find(&payment)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &payment, nil
}

// TransitionStatus 以当前状态为条件更新状态（CAS）
func (r *GormPaymentRepository) TransitionStatus(id uint, from, to string, updates map[string]interface{}) (bool, error) {
	values := map[string]interface{}{"status": to}
	for key, value := range updates {
		values[key] = value
	}
	result := r.db.Model(&models.Payment{}).Where("id = ? AND status = ?", id, from).Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// UpdateFields 更新非状态字段
func (r *GormPaymentRepository) UpdateFields(id uint, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.Model(&models.Payment{}).Where("id = ?", id).Updates(updates).Error
}

// IncrementWebhookAttempts 回调计数 +1
func (r *GormPaymentRepository) IncrementWebhookAttempts(id uint) error {
	return r.db.Model(&models.Payment{}).Where("id = ?", id).
		UpdateColumn("webhook_attempts", gorm.Expr("webhook_attempts + ?", 1)).Error
}

// ListExpired 列出已过期但仍处于待支付/处理中的支付
func (r *GormPaymentRepository) ListExpired(before time.Time, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	var payments []models.Payment
	err := r.db.Where("status IN ? AND expires_at IS NOT NULL AND expires_at < ?", []string{
		constants.PaymentStatusPending,
		constants.PaymentStatusProcessing,
	}, before).Order("id asc").Limit(limit).Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}
