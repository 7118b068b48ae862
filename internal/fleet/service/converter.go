package service

import (
	"time"

	"github.com/jimyag/fleet/internal/fleet/entity"
	"github.com/jimyag/fleet/internal/fleet/repository/model"
	"github.com/jinzhu/copier"
)

// instanceModelToEntity 将 model.Instance 转换为 entity.Instance
func instanceModelToEntity(m *model.Instance) (*entity.Instance, error) {
	e := &entity.Instance{}
	if err := copier.Copy(e, m); err != nil {
		return nil, err
	}

	// 处理时间字段
	e.CreatedAt = m.CreatedAt.Format(time.RFC3339)

	return e, nil
}

// healthModelToEntity 将 model.Health 转换为 entity.Health
func healthModelToEntity(m *model.Health) (*entity.Health, error) {
	e := &entity.Health{}
	if err := copier.Copy(e, m); err != nil {
		return nil, err
	}

	if m.LastCheckedAt != nil {
		e.LastCheckedAt = m.LastCheckedAt.Format(time.RFC3339)
	}

	return e, nil
}

// eventModelToEntity 将 model.ProvisioningEvent 转换为 entity.ProvisioningEvent
func eventModelToEntity(m *model.ProvisioningEvent) (*entity.ProvisioningEvent, error) {
	e := &entity.ProvisioningEvent{}
	if err := copier.Copy(e, m); err != nil {
		return nil, err
	}

	e.StartedAt = m.StartedAt.Format(time.RFC3339)
	if m.CompletedAt != nil {
		e.CompletedAt = m.CompletedAt.Format(time.RFC3339)
	}

	return e, nil
}
