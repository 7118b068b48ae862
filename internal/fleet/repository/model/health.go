package model

import (
	"time"

	"gorm.io/gorm"
)

// Health 实例健康表
// 每个实例一行，首次检查时懒创建；只有 HealthMonitor 会修改
type Health struct {
	ID                  uint           `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	InstanceID          string         `gorm:"type:text;not null;index:idx_healths_instance_id;column:instance_id" json:"instance_id"` // 唯一约束见 createIndexes
	IsHealthy           bool           `gorm:"type:boolean;not null;default:true;column:is_healthy" json:"is_healthy"`
	LastCheckedAt       *time.Time     `gorm:"type:datetime;column:last_checked_at" json:"last_checked_at,omitempty"`
	ConsecutiveFailures int            `gorm:"type:integer;not null;default:0;column:consecutive_failures" json:"consecutive_failures"`
	LastResponseMs      int64          `gorm:"type:integer;not null;default:0;column:last_response_ms" json:"last_response_ms"`
	LastError           string         `gorm:"type:text;column:last_error" json:"last_error,omitempty"`
	CreatedAt           time.Time      `gorm:"type:datetime;not null;column:created_at" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"type:datetime;not null;column:updated_at" json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"type:datetime;index:idx_healths_deleted_at;column:deleted_at" json:"deleted_at,omitempty"`
}

// TableName 指定表名
func (Health) TableName() string {
	return "healths"
}
