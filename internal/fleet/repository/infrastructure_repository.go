package repository

import (
	"context"
	"errors"

	"github.com/jimyag/fleet/internal/fleet/repository/model"
	"gorm.io/gorm"
)

// InfrastructureRepository 基础设施记录仓库接口
type InfrastructureRepository interface {
	Create(ctx context.Context, infra *model.Infrastructure) error
	GetByInstanceID(ctx context.Context, instanceID string) (*model.Infrastructure, error)
	Update(ctx context.Context, infra *model.Infrastructure) error
	Upsert(ctx context.Context, infra *model.Infrastructure) error
	DeleteByInstanceID(ctx context.Context, instanceID string) error
}

type infrastructureRepository struct {
	db *gorm.DB
}

// NewInfrastructureRepository 创建基础设施仓库
func NewInfrastructureRepository(db *gorm.DB) InfrastructureRepository {
	return &infrastructureRepository{db: db}
}

// Create 创建基础设施记录
func (r *infrastructureRepository) Create(ctx context.Context, infra *model.Infrastructure) error {
	return r.db.WithContext(ctx).Create(infra).Error
}

// GetByInstanceID 获取实例的基础设施记录
func (r *infrastructureRepository) GetByInstanceID(ctx context.Context, instanceID string) (*model.Infrastructure, error) {
	var infra model.Infrastructure
	if err := r.db.WithContext(ctx).Where("instance_id = ?", instanceID).First(&infra).Error; err != nil {
		return nil, err
	}
	return &infra, nil
}

// Update 更新基础设施记录
func (r *infrastructureRepository) Update(ctx context.Context, infra *model.Infrastructure) error {
	return r.db.WithContext(ctx).Save(infra).Error
}

// Upsert 创建或更新实例的基础设施记录
// 置备流水线每完成一个资源步骤就落一次句柄，断点恢复时才找得到
func (r *infrastructureRepository) Upsert(ctx context.Context, infra *model.Infrastructure) error {
	existing, err := r.GetByInstanceID(ctx, infra.InstanceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return r.Create(ctx, infra)
		}
		return err
	}
	infra.ID = existing.ID
	infra.CreatedAt = existing.CreatedAt
	return r.Update(ctx, infra)
}

// DeleteByInstanceID 软删除实例的基础设施记录
func (r *infrastructureRepository) DeleteByInstanceID(ctx context.Context, instanceID string) error {
	return r.db.WithContext(ctx).Delete(&model.Infrastructure{}, "instance_id = ?", instanceID).Error
}
