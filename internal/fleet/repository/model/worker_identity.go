package model

import "time"

// WorkerIdentity worker identity 注册表
// 固定大小（由 ID 方案的 identity 位宽决定，0..1023），每行要么空闲、
// 要么绑定到唯一的存活实例、要么被 tombstone。
// "同一 identity 不会被并发分配两次" 由存储层的条件更新保证，
// 不依赖应用层锁
type WorkerIdentity struct {
	ID          int        `gorm:"primaryKey;type:integer;column:id" json:"id"` // 0..1023
	InstanceID  *string    `gorm:"type:text;column:instance_id" json:"instance_id,omitempty"` // 唯一约束见 createIndexes
	AllocatedAt *time.Time `gorm:"type:datetime;column:allocated_at" json:"allocated_at,omitempty"`
	ReleasedAt  *time.Time `gorm:"type:datetime;column:released_at" json:"released_at,omitempty"`
	Tombstoned  bool       `gorm:"type:boolean;not null;default:false;column:tombstoned" json:"tombstoned"` // 复用安全策略，由运维决定
}

// TableName 指定表名
func (WorkerIdentity) TableName() string {
	return "worker_identities"
}
