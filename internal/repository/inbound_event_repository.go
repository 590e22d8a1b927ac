package repository

import (
	"strings"

	"github.com/entrega-next/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InboundEventRepository 入站事件去重接口
type InboundEventRepository interface {
	Record(source, externalID string) (bool, error)
	MarkOrphan(source, externalID string) error
	WithTx(tx *gorm.DB) *GormInboundEventRepository
}

// GormInboundEventRepository GORM 实现
type GormInboundEventRepository struct {
	db *gorm.DB
}

// NewInboundEventRepository 创建入站事件仓库
func NewInboundEventRepository(db *gorm.DB) *GormInboundEventRepository {
	return &GormInboundEventRepository{db: db}
}

// WithTx 绑定事务
func (r *GormInboundEventRepository) WithTx(tx *gorm.DB) *GormInboundEventRepository {
	if tx == nil {
		return r
	}
	return &GormInboundEventRepository{db: tx}
}

// Record 登记事件，首次登记返回 true，重复投递返回 false
func (r *GormInboundEventRepository) Record(source, externalID string) (bool, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return true, nil
	}
	event := &models.InboundEvent{Source: source, ExternalID: externalID}
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source"}, {Name: "external_id"}},
		DoNothing: true,
	}).Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkOrphan 标记为孤立事件
func (r *GormInboundEventRepository) MarkOrphan(source, externalID string) error {
	return r.db.Model(&models.InboundEvent{}).
		Where("source = ? AND external_id = ?", source, strings.TrimSpace(externalID)).
		Update("orphan", true).Error
}
