package model

import (
	"time"

	"gorm.io/gorm"
)

// Infrastructure 实例的外部资源句柄表
// 由置备流水线创建一次，校验和销毁都从这里取句柄；
// 所有 *Enc 字段入库前已由 secrets.Cipher 加密
type Infrastructure struct {
	ID         uint           `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	InstanceID string         `gorm:"type:text;not null;index:idx_infrastructures_instance_id;column:instance_id" json:"instance_id"` // 唯一约束见 createIndexes

	NetworkID   string `gorm:"type:text;column:network_id" json:"network_id"`     // 容器运行时网络 ID
	ContainerID string `gorm:"type:text;column:container_id" json:"container_id"` // 容器 ID

	DBName        string `gorm:"type:text;column:db_name" json:"db_name"`
	DBUser        string `gorm:"type:text;column:db_user" json:"db_user"`
	DBPasswordEnc string `gorm:"type:text;column:db_password_enc" json:"-"`

	StorageAccessKey    string `gorm:"type:text;column:storage_access_key" json:"storage_access_key"`
	StorageSecretKeyEnc string `gorm:"type:text;column:storage_secret_key_enc" json:"-"`

	RouteID string `gorm:"type:text;column:route_id" json:"route_id"` // 反向代理路由 ID

	RelayAPIKey    string `gorm:"type:text;column:relay_api_key" json:"relay_api_key"`
	RelaySecretEnc string `gorm:"type:text;column:relay_secret_enc" json:"-"`

	KEKEnc             string `gorm:"type:text;column:kek_enc" json:"-"`                              // 每实例 key-encryption-key
	BootstrapTokenHash string `gorm:"type:text;column:bootstrap_token_hash" json:"-"`                 // bootstrap token 的 SHA-256

	CreatedAt time.Time      `gorm:"type:datetime;not null;column:created_at" json:"created_at"`
	UpdatedAt time.Time      `gorm:"type:datetime;not null;column:updated_at" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"type:datetime;index:idx_infrastructures_deleted_at;column:deleted_at" json:"deleted_at,omitempty"`
}

// TableName 指定表名
func (Infrastructure) TableName() string {
	return "infrastructures"
}
