package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jimyag/fleet/internal/fleet/repository/model"
	"gorm.io/gorm"
)

// QueueRepository 置备队列仓库接口
// 持久化 FIFO 队列：Dequeue 标记出队而不是删除，进程崩溃后
// ListPending 仍能找回未处理的实例
type QueueRepository interface {
	// Enqueue 入队；同一实例已有未出队记录时不重复入队
	Enqueue(ctx context.Context, instanceID string) error
	// Dequeue 取出最早入队的实例 ID；队列为空返回空字符串
	Dequeue(ctx context.Context) (string, error)
	// ListPending 列出所有未出队的实例 ID（按入队顺序）
	ListPending(ctx context.Context) ([]string, error)
}

type queueRepository struct {
	db *gorm.DB
}

// NewQueueRepository 创建队列仓库
func NewQueueRepository(db *gorm.DB) QueueRepository {
	return &queueRepository{db: db}
}

// Enqueue 入队
// 条件插入 + 部分唯一索引双保险，保证同一实例最多一条未出队记录
func (r *queueRepository) Enqueue(ctx context.Context, instanceID string) error {
	return r.db.WithContext(ctx).Exec(`
		INSERT INTO queue_items (instance_id, enqueued_at)
		SELECT ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM queue_items
			WHERE instance_id = ? AND dequeued_at IS NULL
		)
	`, instanceID, time.Now(), instanceID).Error
}

// Dequeue 出队
func (r *queueRepository) Dequeue(ctx context.Context) (string, error) {
	var instanceID string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item model.QueueItem
		err := tx.Where("dequeued_at IS NULL").Order("id").First(&item).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		now := time.Now()
		result := tx.Model(&model.QueueItem{}).
			Where("id = ? AND dequeued_at IS NULL", item.ID).
			Update("dequeued_at", now)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 1 {
			instanceID = item.InstanceID
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return instanceID, nil
}

// ListPending 列出未出队的实例 ID
func (r *queueRepository) ListPending(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.QueueItem{}).
		Where("dequeued_at IS NULL").
		Order("id").
		Pluck("instance_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
