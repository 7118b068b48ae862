package repository

import (
	"context"

	"github.com/jimyag/fleet/internal/fleet/repository/model"
	"gorm.io/gorm"
)

// BillingRepository 计费记录仓库接口
type BillingRepository interface {
	Create(ctx context.Context, billing *model.Billing) error
	GetByInstanceID(ctx context.Context, instanceID string) (*model.Billing, error)
	DeleteByInstanceID(ctx context.Context, instanceID string) error
}

type billingRepository struct {
	db *gorm.DB
}

// NewBillingRepository 创建计费仓库
func NewBillingRepository(db *gorm.DB) BillingRepository {
	return &billingRepository{db: db}
}

// Create 创建计费记录
func (r *billingRepository) Create(ctx context.Context, billing *model.Billing) error {
	return r.db.WithContext(ctx).Create(billing).Error
}

// GetByInstanceID 获取实例的计费记录
func (r *billingRepository) GetByInstanceID(ctx context.Context, instanceID string) (*model.Billing, error) {
	var billing model.Billing
	if err := r.db.WithContext(ctx).Where("instance_id = ?", instanceID).First(&billing).Error; err != nil {
		return nil, err
	}
	return &billing, nil
}

// DeleteByInstanceID 软删除实例的计费记录
func (r *billingRepository) DeleteByInstanceID(ctx context.Context, instanceID string) error {
	return r.db.WithContext(ctx).Delete(&model.Billing{}, "instance_id = ?", instanceID).Error
}
