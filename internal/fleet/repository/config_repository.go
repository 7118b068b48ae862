package repository

import (
	"context"

	"github.com/jimyag/fleet/internal/fleet/repository/model"
	"gorm.io/gorm"
)

// ConfigRepository 实例配置仓库接口
type ConfigRepository interface {
	Create(ctx context.Context, cfg *model.InstanceConfig) error
	GetByInstanceID(ctx context.Context, instanceID string) (*model.InstanceConfig, error)
	DeleteByInstanceID(ctx context.Context, instanceID string) error
}

type configRepository struct {
	db *gorm.DB
}

// NewConfigRepository 创建实例配置仓库
func NewConfigRepository(db *gorm.DB) ConfigRepository {
	return &configRepository{db: db}
}

// Create 创建配置记录
func (r *configRepository) Create(ctx context.Context, cfg *model.InstanceConfig) error {
	return r.db.WithContext(ctx).Create(cfg).Error
}

// GetByInstanceID 获取实例的配置记录
func (r *configRepository) GetByInstanceID(ctx context.Context, instanceID string) (*model.InstanceConfig, error) {
	var cfg model.InstanceConfig
	if err := r.db.WithContext(ctx).Where("instance_id = ?", instanceID).First(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DeleteByInstanceID 软删除实例的配置记录
func (r *configRepository) DeleteByInstanceID(ctx context.Context, instanceID string) error {
	return r.db.WithContext(ctx).Delete(&model.InstanceConfig{}, "instance_id = ?", instanceID).Error
}
