package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jimyag/fleet/internal/fleet/repository/model"
	"gorm.io/gorm"
)

// HealthRepository 健康记录仓库接口
type HealthRepository interface {
	GetByInstanceID(ctx context.Context, instanceID string) (*model.Health, error)
	// EnsureExists 获取健康记录，不存在时创建一条默认健康的记录
	EnsureExists(ctx context.Context, instanceID string) (*model.Health, error)
	Update(ctx context.Context, health *model.Health) error
	DeleteByInstanceID(ctx context.Context, instanceID string) error
}

type healthRepository struct {
	db *gorm.DB
}

// NewHealthRepository 创建健康记录仓库
func NewHealthRepository(db *gorm.DB) HealthRepository {
	return &healthRepository{db: db}
}

// GetByInstanceID 获取实例的健康记录
func (r *healthRepository) GetByInstanceID(ctx context.Context, instanceID string) (*model.Health, error) {
	var health model.Health
	if err := r.db.WithContext(ctx).Where("instance_id = ?", instanceID).First(&health).Error; err != nil {
		return nil, err
	}
	return &health, nil
}

// EnsureExists 懒创建健康记录（默认健康）
func (r *healthRepository) EnsureExists(ctx context.Context, instanceID string) (*model.Health, error) {
	health, err := r.GetByInstanceID(ctx, instanceID)
	if err == nil {
		return health, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	health = &model.Health{
		InstanceID: instanceID,
		IsHealthy:  true,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(health).Error; err != nil {
		return nil, err
	}
	return health, nil
}

// Update 更新健康记录
func (r *healthRepository) Update(ctx context.Context, health *model.Health) error {
	return r.db.WithContext(ctx).Save(health).Error
}

// DeleteByInstanceID 软删除实例的健康记录
func (r *healthRepository) DeleteByInstanceID(ctx context.Context, instanceID string) error {
	return r.db.WithContext(ctx).Delete(&model.Health{}, "instance_id = ?", instanceID).Error
}
