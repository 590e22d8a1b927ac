package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/entrega-next/internal/constants"
	"github.com/entrega-next/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NotificationRepository 通知数据访问接口
type NotificationRepository interface {
	CreateOnce(notification *models.Notification) (*models.Notification, bool, error)
	GetByID(id uint) (*models.Notification, error)
	GetByProviderMessageID(messageID string) (*models.Notification, error)
	ClaimForSending(id uint, now time.Time) (bool, error)
	MarkSent(id uint, providerMessageID string, now time.Time) (bool, error)
	ScheduleRetry(id uint, retryCount int, nextRetryAt time.Time, lastError string) (bool, error)
	MarkFailed(id uint, retryCount int, lastError string, now time.Time) (bool, error)
	AdvanceStatus(id uint, from []string, to string, updates map[string]interface{}) (bool, error)
	ListDue(now time.Time, limit int) ([]models.Notification, error)
	ReclaimStaleSending(before time.Time) (int64, error)
	WithTx(tx *gorm.DB) *GormNotificationRepository
}

// GormNotificationRepository GORM 实现
type GormNotificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository 创建通知仓库
func NewNotificationRepository(db *gorm.DB) *GormNotificationRepository {
	return &GormNotificationRepository{db: db}
}

// WithTx 绑定事务
func (r *GormNotificationRepository) WithTx(tx *gorm.DB) *GormNotificationRepository {
	if tx == nil {
		return r
	}
	return &GormNotificationRepository{db: tx}
}

// CreateOnce 按去重键创建通知，已存在时返回已有记录与 false
func (r *GormNotificationRepository) CreateOnce(notification *models.Notification) (*models.Notification, bool, error) {
	if notification == nil || strings.TrimSpace(notification.DedupKey) == "" {
		return nil, false, errors.New("notification dedup key is required")
	}
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedup_key"}},
		DoNothing: true,
	}).Create(notification)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 1 {
		return notification, true, nil
	}
	var existing models.Notification
	if err := r.db.Where("dedup_key = ?", notification.DedupKey).First(&existing).Error; err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

// GetByID 根据 ID 获取通知
func (r *GormNotificationRepository) GetByID(id uint) (*models.Notification, error) {
	var notification models.Notification
	if err := r.db.First(&notification, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &notification, nil
}

// GetByProviderMessageID 根据渠道消息 ID 获取通知
func (r *GormNotificationRepository) GetByProviderMessageID(messageID string) (*models.Notification, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, nil
	}
	var notification models.Notification
	result := r.db.Where("provider_message_id = ?", messageID).Order("id desc").Limit(1).Find(&notification)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &notification, nil
}

// ClaimForSending 抢占一次发送机会：仅 PENDING 且到期的记录可进入 SENDING
func (r *GormNotificationRepository) ClaimForSending(id uint, now time.Time) (bool, error) {
	result := r.db.Model(&models.Notification{}).
		Where("id = ? AND status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", id, constants.NotificationStatusPending, now).
		Updates(map[string]interface{}{
			"status":     constants.NotificationStatusSending,
			"sending_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkSent 发送成功
func (r *GormNotificationRepository) MarkSent(id uint, providerMessageID string, now time.Time) (bool, error) {
	return r.AdvanceStatus(id, []string{constants.NotificationStatusSending}, constants.NotificationStatusSent, map[string]interface{}{
		"provider_message_id": providerMessageID,
		"sent_at":             now,
		"last_error":          "",
	})
}

// ScheduleRetry 发送失败，回到 PENDING 并设置下次重试时间
func (r *GormNotificationRepository) ScheduleRetry(id uint, retryCount int, nextRetryAt time.Time, lastError string) (bool, error) {
	return r.AdvanceStatus(id, []string{constants.NotificationStatusSending}, constants.NotificationStatusPending, map[string]interface{}{
		"retry_count":   retryCount,
		"next_retry_at": nextRetryAt,
		"last_error":    lastError,
	})
}

// MarkFailed 最终失败
func (r *GormNotificationRepository) MarkFailed(id uint, retryCount int, lastError string, now time.Time) (bool, error) {
	return r.AdvanceStatus(id, []string{constants.NotificationStatusSending}, constants.NotificationStatusFailed, map[string]interface{}{
		"retry_count":   retryCount,
		"next_retry_at": nil,
		"last_error":    lastError,
		"failed_at":     now,
	})
}

// AdvanceStatus 以当前状态集合为条件更新状态（CAS）
func (r *GormNotificationRepository) AdvanceStatus(id uint, from []string, to string, updates map[string]interface{}) (bool, error) {
	values := map[string]interface{}{"status": to}
	for key, value := range updates {
		values[key] = value
	}
	result := r.db.Model(&models.Notification{}).Where("id = ? AND status IN ?", id, from).Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListDue 列出到期待发送的通知
func (r *GormNotificationRepository) ListDue(now time.Time, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	var notifications []models.Notification
	err := r.db.Where("status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", constants.NotificationStatusPending, now).
		Order("priority desc").Order("id asc").
		Limit(limit).
		Find(&notifications).Error
	if err != nil {
		return nil, err
	}
	return notifications, nil
}

// ReclaimStaleSending 将租约超时的 SENDING 记录退回 PENDING（进程崩溃后恢复）
func (r *GormNotificationRepository) ReclaimStaleSending(before time.Time) (int64, error) {
	result := r.db.Model(&models.Notification{}).
		Where("status = ? AND sending_at < ?", constants.NotificationStatusSending, before).
		Updates(map[string]interface{}{"status": constants.NotificationStatusPending})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
