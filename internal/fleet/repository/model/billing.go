package model

import (
	"time"

	"gorm.io/gorm"
)

// Billing 实例计费记录表
// 套餐限额检查步骤读取；缺失时该实例的置备以 ResourceNotFound 失败
type Billing struct {
	ID         uint           `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	InstanceID string         `gorm:"type:text;not null;index:idx_billings_instance_id;column:instance_id" json:"instance_id"` // 唯一约束见 createIndexes
	Tier       string         `gorm:"type:text;not null;column:tier" json:"tier"`     // free, standard, premium
	Status     string         `gorm:"type:text;not null;column:status" json:"status"` // active, past_due, cancelled
	CreatedAt  time.Time      `gorm:"type:datetime;not null;column:created_at" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"type:datetime;not null;column:updated_at" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"type:datetime;index:idx_billings_deleted_at;column:deleted_at" json:"deleted_at,omitempty"`
}

// TableName 指定表名
func (Billing) TableName() string {
	return "billings"
}
