package repository

import (
	"errors"
	"strings"

	"github.com/entrega-next/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository 用户数据访问接口
type UserRepository interface {
	GetByID(id uint) (*models.User, error)
	GetByPhone(phone string) (*models.User, error)
	EnsureByPhone(phone, name, role string) (*models.User, error)
	WithTx(tx *gorm.DB) *GormUserRepository
}

// GormUserRepository GORM 实现
type GormUserRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建用户仓库
func NewUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

// WithTx 绑定事务
func (r *GormUserRepository) WithTx(tx *gorm.DB) *GormUserRepository {
	if tx == nil {
		return r
	}
	return &GormUserRepository{db: tx}
}

// GetByID 根据 ID 获取用户
func (r *GormUserRepository) GetByID(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// GetByPhone 根据手机号获取用户
func (r *GormUserRepository) GetByPhone(phone string) (*models.User, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, nil
	}
	var user models.User
	result := r.db.Where("phone = ?", phone).Limit(1).Find(&user)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &user, nil
}

// EnsureByPhone 按手机号获取用户，不存在则创建（并发安全）
func (r *GormUserRepository) EnsureByPhone(phone, name, role string) (*models.User, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, errors.New("phone is required")
	}
	user := &models.User{Phone: phone, Name: strings.TrimSpace(name), Role: role}
	if err := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(user).Error; err != nil {
		return nil, err
	}
	existing, err := r.GetByPhone(phone)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, gorm.ErrRecordNotFound
	}
	if existing.Name == "" && user.Name != "" {
		if err := r.db.Model(existing).Update("name", user.Name).Error; err != nil {
			return nil, err
		}
		existing.Name = user.Name
	}
	return existing, nil
}
