package model

import (
	"time"

	"gorm.io/gorm"
)

// 实例状态
const (
	StatusPending      = "pending"      // 已创建，等待入队/出队
	StatusProvisioning = "provisioning" // 置备流水线进行中
	StatusRunning      = "running"      // 已置备完成，对外服务
	StatusSuspended    = "suspended"    // 运维挂起
	StatusDestroyed    = "destroyed"    // 已销毁
	StatusFailed       = "failed"       // 关键资源丢失或置备失败
)

// Instance 实例表
// Version 列用于乐观并发控制：三个后台循环可能同时写同一行，
// 版本不匹配的写入失败而不是互相覆盖
type Instance struct {
	ID          string         `gorm:"primaryKey;type:text;column:id" json:"id"` // in-{id}
	TenantID    string         `gorm:"type:text;not null;index:idx_instances_tenant_id;column:tenant_id" json:"tenant_id"`
	Domain      string         `gorm:"type:text;not null;index:idx_instances_domain;column:domain" json:"domain"`
	Name        string         `gorm:"type:text;not null;column:name" json:"name"`
	Description string         `gorm:"type:text;column:description" json:"description"`
	Status      string         `gorm:"type:text;not null;index:idx_instances_status;column:status" json:"status"`
	MemberCount int            `gorm:"type:integer;not null;default:0;column:member_count" json:"member_count"`
	OnlineCount int            `gorm:"type:integer;not null;default:0;column:online_count" json:"online_count"`
	WorkerID    *int           `gorm:"type:integer;column:worker_id" json:"worker_id,omitempty"` // 关联 worker_identities.id
	Version     int            `gorm:"type:integer;not null;default:0;column:version" json:"-"`  // 乐观锁
	CreatedAt   time.Time      `gorm:"type:datetime;not null;index:idx_instances_created_at;column:created_at" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"type:datetime;not null;column:updated_at" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"type:datetime;index:idx_instances_deleted_at;column:deleted_at" json:"deleted_at,omitempty"` // 软删除
}

// TableName 指定表名
func (Instance) TableName() string {
	return "instances"
}
