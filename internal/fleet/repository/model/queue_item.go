package model

import "time"

// QueueItem 置备队列表
// 持久化的 FIFO 队列：进程重启后 ListPending 能找回未完成的工作。
// 同一实例最多只有一条未出队记录（唯一约束见 createIndexes）
type QueueItem struct {
	ID         uint       `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	InstanceID string     `gorm:"type:text;not null;index:idx_queue_items_instance_id;column:instance_id" json:"instance_id"`
	EnqueuedAt time.Time  `gorm:"type:datetime;not null;column:enqueued_at" json:"enqueued_at"`
	DequeuedAt *time.Time `gorm:"type:datetime;index:idx_queue_items_dequeued_at;column:dequeued_at" json:"dequeued_at,omitempty"`
}

// TableName 指定表名
func (QueueItem) TableName() string {
	return "queue_items"
}
