package repository

import (
	"context"
	"time"

	"github.com/jimyag/fleet/internal/fleet/repository/model"
	"gorm.io/gorm"
)

// EventRepository 置备事件仓库接口
// 事件只追加和补全完成信息，完成后的记录不再修改
type EventRepository interface {
	Append(ctx context.Context, event *model.ProvisioningEvent) error
	Complete(ctx context.Context, event *model.ProvisioningEvent) error
	ListByInstance(ctx context.Context, instanceID string) ([]*model.ProvisioningEvent, error)
	// SucceededSteps 返回实例在某阶段已成功的步骤集合（断点恢复用）
	SucceededSteps(ctx context.Context, instanceID, phase string) (map[string]bool, error)
	// CountStepRuns 统计某步骤被启动的次数（观察重试循环）
	CountStepRuns(ctx context.Context, instanceID, phase, step string) (int64, error)
}

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository 创建事件仓库
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

// Append 追加一条 started 事件
func (r *eventRepository) Append(ctx context.Context, event *model.ProvisioningEvent) error {
	if event.StartedAt.IsZero() {
		event.StartedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

// Complete 补全事件的结束状态和时间戳
func (r *eventRepository) Complete(ctx context.Context, event *model.ProvisioningEvent) error {
	now := time.Now()
	event.CompletedAt = &now
	return r.db.WithContext(ctx).Model(&model.ProvisioningEvent{}).
		Where("id = ?", event.ID).
		Updates(map[string]interface{}{
			"status":       event.Status,
			"error":        event.Error,
			"completed_at": event.CompletedAt,
		}).Error
}

// ListByInstance 列出实例的全部事件（按发生顺序）
func (r *eventRepository) ListByInstance(ctx context.Context, instanceID string) ([]*model.ProvisioningEvent, error) {
	var events []*model.ProvisioningEvent
	err := r.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("started_at").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// SucceededSteps 返回已成功的步骤集合
// 同一步骤失败后重试成功，以最近一次事件为准
func (r *eventRepository) SucceededSteps(ctx context.Context, instanceID, phase string) (map[string]bool, error) {
	events, err := r.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	succeeded := make(map[string]bool)
	for _, e := range events {
		if e.Phase != phase {
			continue
		}
		switch e.Status {
		case model.EventSucceeded:
			succeeded[e.Step] = true
		case model.EventFailed:
			delete(succeeded, e.Step)
		}
	}
	return succeeded, nil
}

// CountStepRuns 统计步骤启动次数
func (r *eventRepository) CountStepRuns(ctx context.Context, instanceID, phase, step string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.ProvisioningEvent{}).
		Where("instance_id = ? AND phase = ? AND step = ?", instanceID, phase, step).
		Count(&count).Error
	return count, err
}
