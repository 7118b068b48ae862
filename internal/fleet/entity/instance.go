// Package entity 定义业务实体
package entity

// Instance 实例信息
type Instance struct {
	ID          string `json:"id"`           // Instance ID: in-{id}
	TenantID    string `json:"tenant_id"`    // 所属租户
	Domain      string `json:"domain"`       // 实例域名
	Name        string `json:"name"`         // 展示名称
	Description string `json:"description"`  // 描述
	Status      string `json:"status"`       // pending, provisioning, running, suspended, destroyed, failed
	MemberCount int    `json:"member_count"` // 成员数
	OnlineCount int    `json:"online_count"` // 在线数
	WorkerID    *int   `json:"worker_id,omitempty"` // 分配到的 worker identity
	CreatedAt   string `json:"created_at"`   // 创建时间
}

// Health 实例健康信息
type Health struct {
	InstanceID          string `json:"instance_id"`
	IsHealthy           bool   `json:"is_healthy"`
	LastCheckedAt       string `json:"last_checked_at"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastResponseMs      int64  `json:"last_response_ms"`
	LastError           string `json:"last_error,omitempty"`
}

// ProvisioningEvent 置备审计事件
type ProvisioningEvent struct {
	ID          string `json:"id"`
	InstanceID  string `json:"instance_id"`
	Phase       string `json:"phase"`  // provision, destroy
	Step        string `json:"step"`   // 步骤名称
	Status      string `json:"status"` // started, succeeded, failed
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// CreateInstanceRequest 创建实例请求
type CreateInstanceRequest struct {
	TenantID    string `json:"tenant_id"`
	Domain      string `json:"domain"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Tier        string `json:"tier,omitempty"` // 计费套餐，缺省 free
}

// InstanceDetail 实例详情（含健康信息）
type InstanceDetail struct {
	Instance *Instance `json:"instance"`
	Health   *Health   `json:"health,omitempty"`
}

// InstanceStateChange 实例状态变更结果
type InstanceStateChange struct {
	InstanceID     string `json:"instance_id"`
	PreviousStatus string `json:"previous_status"`
	CurrentStatus  string `json:"current_status"`
}
