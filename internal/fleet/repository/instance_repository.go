package repository

import (
	"context"
	"time"

	"github.com/jimyag/fleet/internal/fleet/repository/model"
	"gorm.io/gorm"
)

// InstanceRepository 实例仓库接口
type InstanceRepository interface {
	Create(ctx context.Context, instance *model.Instance) error
	GetByID(ctx context.Context, id string) (*model.Instance, error)
	GetByIDWithDeleted(ctx context.Context, id string) (*model.Instance, error)
	List(ctx context.Context, filters map[string]interface{}) ([]*model.Instance, error)
	ListByStatus(ctx context.Context, status string) ([]*model.Instance, error)
	ListProvisioningBefore(ctx context.Context, cutoff time.Time) ([]*model.Instance, error)
	CountActiveByTenant(ctx context.Context, tenantID string) (int64, error)
	Update(ctx context.Context, instance *model.Instance) error
	UpdateWithVersion(ctx context.Context, instance *model.Instance) error
	Delete(ctx context.Context, id string) error
}

type instanceRepository struct {
	db *gorm.DB
}

// NewInstanceRepository 创建实例仓库
func NewInstanceRepository(db *gorm.DB) InstanceRepository {
	return &instanceRepository{db: db}
}

// Create 创建实例
func (r *instanceRepository) Create(ctx context.Context, instance *model.Instance) error {
	return r.db.WithContext(ctx).Create(instance).Error
}

// GetByID 根据 ID 获取实例（自动过滤已删除）
func (r *instanceRepository) GetByID(ctx context.Context, id string) (*model.Instance, error) {
	var instance model.Instance
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&instance).Error; err != nil {
		return nil, err
	}
	return &instance, nil
}

// GetByIDWithDeleted 根据 ID 获取实例（包含已删除的记录）
func (r *instanceRepository) GetByIDWithDeleted(ctx context.Context, id string) (*model.Instance, error) {
	var instance model.Instance
	if err := r.db.WithContext(ctx).Unscoped().Where("id = ?", id).First(&instance).Error; err != nil {
		return nil, err
	}
	return &instance, nil
}

// List 列出实例
func (r *instanceRepository) List(ctx context.Context, filters map[string]interface{}) ([]*model.Instance, error) {
	var instances []*model.Instance
	query := r.db.WithContext(ctx).Model(&model.Instance{})

	// 应用过滤器
	if status, ok := filters["status"]; ok {
		query = query.Where("status = ?", status)
	}
	if tenantID, ok := filters["tenant_id"]; ok {
		query = query.Where("tenant_id = ?", tenantID)
	}
	if domain, ok := filters["domain"]; ok {
		query = query.Where("domain = ?", domain)
	}

	if err := query.Order("created_at").Find(&instances).Error; err != nil {
		return nil, err
	}

	return instances, nil
}

// ListByStatus 列出指定状态的实例
func (r *instanceRepository) ListByStatus(ctx context.Context, status string) ([]*model.Instance, error) {
	return r.List(ctx, map[string]interface{}{"status": status})
}

// ListProvisioningBefore 列出创建时间早于 cutoff 且仍在置备中的实例
// Reconciler 用它发现卡死的置备
func (r *instanceRepository) ListProvisioningBefore(ctx context.Context, cutoff time.Time) ([]*model.Instance, error) {
	var instances []*model.Instance
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.StatusProvisioning, cutoff).
		Order("created_at").
		Find(&instances).Error
	if err != nil {
		return nil, err
	}
	return instances, nil
}

// CountActiveByTenant 统计租户未销毁的实例数（套餐限额检查用）
func (r *instanceRepository) CountActiveByTenant(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Instance{}).
		Where("tenant_id = ? AND status NOT IN ?", tenantID, []string{model.StatusDestroyed, model.StatusFailed}).
		Count(&count).Error
	return count, err
}

// Update 更新实例（不检查版本，只用于非状态字段）
func (r *instanceRepository) Update(ctx context.Context, instance *model.Instance) error {
	return r.db.WithContext(ctx).Save(instance).Error
}

// UpdateWithVersion 带乐观锁更新实例
// 只有持有最新版本的写入者能成功；冲突返回 ErrVersionConflict，
// 调用方要么带新状态重试，要么跳过本轮，绝不能盲目覆盖
func (r *instanceRepository) UpdateWithVersion(ctx context.Context, instance *model.Instance) error {
	result := r.db.WithContext(ctx).Model(&model.Instance{}).
		Where("id = ? AND version = ?", instance.ID, instance.Version).
		Updates(map[string]interface{}{
			"status":       instance.Status,
			"name":         instance.Name,
			"description":  instance.Description,
			"member_count": instance.MemberCount,
			"online_count": instance.OnlineCount,
			"worker_id":    instance.WorkerID,
			"version":      instance.Version + 1,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	instance.Version++
	return nil
}

// Delete 软删除实例
func (r *instanceRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&model.Instance{}, "id = ?", id).Error
}
