package model

import "time"

// 置备事件的阶段
const (
	PhaseProvision = "provision"
	PhaseDestroy   = "destroy"
)

// 置备事件的状态
const (
	EventStarted   = "started"
	EventSucceeded = "succeeded"
	EventFailed    = "failed"
)

// ProvisioningEvent 置备审计事件表
// 追加写入，完成后不再修改；用于流水线断点恢复和诊断。
// 不做软删除：审计记录随实例硬删除一起清理
type ProvisioningEvent struct {
	ID          string     `gorm:"primaryKey;type:text;column:id" json:"id"` // evt-{id}
	InstanceID  string     `gorm:"type:text;not null;index:idx_provisioning_events_instance_id;column:instance_id" json:"instance_id"`
	Phase       string     `gorm:"type:text;not null;column:phase" json:"phase"`
	Step        string     `gorm:"type:text;not null;column:step" json:"step"`
	Status      string     `gorm:"type:text;not null;column:status" json:"status"`
	Error       string     `gorm:"type:text;column:error" json:"error,omitempty"`
	StartedAt   time.Time  `gorm:"type:datetime;not null;column:started_at" json:"started_at"`
	CompletedAt *time.Time `gorm:"type:datetime;column:completed_at" json:"completed_at,omitempty"`
}

// TableName 指定表名
func (ProvisioningEvent) TableName() string {
	return "provisioning_events"
}
