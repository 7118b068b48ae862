package model

import (
	"time"

	"gorm.io/gorm"
)

// InstanceConfig 实例应用层配置表
// 每实例一行，随实例级联删除
type InstanceConfig struct {
	ID         uint           `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	InstanceID string         `gorm:"type:text;not null;index:idx_instance_configs_instance_id;column:instance_id" json:"instance_id"` // 唯一约束见 createIndexes
	Settings   string         `gorm:"type:text;column:settings" json:"settings"` // JSON 设置块，核心不解释内容
	CreatedAt  time.Time      `gorm:"type:datetime;not null;column:created_at" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"type:datetime;not null;column:updated_at" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"type:datetime;index:idx_instance_configs_deleted_at;column:deleted_at" json:"deleted_at,omitempty"`
}

// TableName 指定表名
func (InstanceConfig) TableName() string {
	return "instance_configs"
}
