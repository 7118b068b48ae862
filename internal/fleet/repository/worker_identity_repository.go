package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jimyag/fleet/internal/fleet/repository/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrPoolExhausted worker identity 池中没有空闲行
var ErrPoolExhausted = errors.New("repository: worker identity pool exhausted")

// WorkerIdentityRepository worker identity 注册表仓库接口
type WorkerIdentityRepository interface {
	// EnsurePool 确保注册表有 size 行（0..size-1），已存在的行不动
	EnsurePool(ctx context.Context, size int) error
	// Claim 认领一个空闲 identity 并绑定到实例
	// 并发仲裁完全由存储层的条件更新完成；没有空闲行返回 ErrPoolExhausted
	Claim(ctx context.Context, instanceID string) (int, error)
	// Release 解绑 identity 并记录释放时间；不做 tombstone
	Release(ctx context.Context, id int) error
	// Tombstone 将 identity 标记为不可复用（复用安全策略，由运维决定）
	Tombstone(ctx context.Context, id int) error
	GetByInstanceID(ctx context.Context, instanceID string) (*model.WorkerIdentity, error)
	Get(ctx context.Context, id int) (*model.WorkerIdentity, error)
	// CountBound 统计当前绑定到实例的 identity 数
	CountBound(ctx context.Context) (int64, error)
}

type workerIdentityRepository struct {
	db *gorm.DB
}

// NewWorkerIdentityRepository 创建 worker identity 仓库
func NewWorkerIdentityRepository(db *gorm.DB) WorkerIdentityRepository {
	return &workerIdentityRepository{db: db}
}

// EnsurePool 填充注册表
func (r *workerIdentityRepository) EnsurePool(ctx context.Context, size int) error {
	rows := make([]model.WorkerIdentity, 0, size)
	for i := 0; i < size; i++ {
		rows = append(rows, model.WorkerIdentity{ID: i})
	}
	// 已存在的行保持原状，重启时不会清掉已分配的绑定
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, 256).Error
}

// Claim 认领空闲 identity
// 只有空闲行的查询真正落空才算池耗尽：输掉一次条件更新的竞争
// 说明另一个认领者绑定了那一行，换一行重试即可。每输一次池就
// 少一行空闲，重试总次数被池大小约束，循环必然终止
func (r *workerIdentityRepository) Claim(ctx context.Context, instanceID string) (int, error) {
	for {
		// 挑一个空闲行：未绑定且未 tombstone
		var row model.WorkerIdentity
		err := r.db.WithContext(ctx).
			Where("instance_id IS NULL AND tombstoned = ?", false).
			Order("id").
			First(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, ErrPoolExhausted
			}
			return 0, err
		}

		// 条件更新是唯一的仲裁者：两个并发认领者中只有一个会命中
		// instance_id IS NULL 的行
		now := time.Now()
		result := r.db.WithContext(ctx).Model(&model.WorkerIdentity{}).
			Where("id = ? AND instance_id IS NULL", row.ID).
			Updates(map[string]interface{}{
				"instance_id":  instanceID,
				"allocated_at": now,
				"released_at":  nil,
			})
		if result.Error != nil {
			return 0, result.Error
		}
		if result.RowsAffected == 1 {
			return row.ID, nil
		}
	}
}

// Release 解绑 identity
func (r *workerIdentityRepository) Release(ctx context.Context, id int) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.WorkerIdentity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"instance_id": nil,
			"released_at": now,
		}).Error
}

// Tombstone 标记 identity 不可复用
func (r *workerIdentityRepository) Tombstone(ctx context.Context, id int) error {
	return r.db.WithContext(ctx).Model(&model.WorkerIdentity{}).
		Where("id = ?", id).
		Update("tombstoned", true).Error
}

// GetByInstanceID 查找绑定到实例的 identity
func (r *workerIdentityRepository) GetByInstanceID(ctx context.Context, instanceID string) (*model.WorkerIdentity, error) {
	var row model.WorkerIdentity
	if err := r.db.WithContext(ctx).Where("instance_id = ?", instanceID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// Get 按 ID 获取 identity 行
func (r *workerIdentityRepository) Get(ctx context.Context, id int) (*model.WorkerIdentity, error) {
	var row model.WorkerIdentity
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// CountBound 统计绑定中的 identity
func (r *workerIdentityRepository) CountBound(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.WorkerIdentity{}).
		Where("instance_id IS NOT NULL").
		Count(&count).Error
	return count, err
}
