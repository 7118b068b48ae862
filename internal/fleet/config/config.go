// Package config 提供控制面的配置加载
// 所有配置项都来自环境变量，未设置时使用默认值
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	// Address API 服务绑定地址
	// 环境变量 FLEET_ADDRESS，默认 0.0.0.0:7777
	Address string

	// DataDir 数据目录，SQLite 数据库放在这里
	// 环境变量 FLEET_DATA_DIR，默认 ~/.local/share/fleet
	DataDir string

	// EncryptionKey 字段级加密密钥（十六进制编码的 32 字节）
	// 环境变量 FLEET_ENCRYPTION_KEY，必填
	EncryptionKey string

	// TierLimitsFile 套餐限额 YAML 文件路径
	// 环境变量 FLEET_TIER_LIMITS_FILE，未设置时使用内置限额
	TierLimitsFile string

	// RuntimeEndpoint 容器运行时 API 地址
	// 环境变量 FLEET_RUNTIME_ENDPOINT
	RuntimeEndpoint string

	// InstanceImage 实例容器镜像
	// 环境变量 FLEET_INSTANCE_IMAGE
	InstanceImage string

	// InstancePort 容器内应用端口
	// 环境变量 FLEET_INSTANCE_PORT，默认 3000
	InstancePort int

	// IngressIP 对外入口 IP，实例域名的 A 记录指向它
	// 环境变量 FLEET_INGRESS_IP
	IngressIP string

	// ProxyEndpoint 反向代理 admin API 地址
	// 环境变量 FLEET_PROXY_ENDPOINT
	ProxyEndpoint string
	// ProxyToken 反向代理 admin API 的 Bearer token
	// 环境变量 FLEET_PROXY_TOKEN
	ProxyToken string

	// DNSEndpoint DNS 提供商 API 地址
	// 环境变量 FLEET_DNS_ENDPOINT
	DNSEndpoint string
	// DNSToken DNS 提供商 API token
	// 环境变量 FLEET_DNS_TOKEN
	DNSToken string

	// 共享数据库服务器（实例专属数据库在这里创建）
	// 环境变量 FLEET_DB_HOST / FLEET_DB_PORT / FLEET_DB_ADMIN_DSN
	DBHost     string
	DBPort     int
	DBAdminDSN string

	// 对象存储（S3 兼容）
	// 环境变量 FLEET_S3_ENDPOINT / FLEET_S3_REGION /
	// FLEET_S3_ACCESS_KEY / FLEET_S3_SECRET_KEY
	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string

	// RelaySecret 媒体中继共享密钥
	// 环境变量 FLEET_RELAY_SECRET
	RelaySecret string

	// AlertWebhookURL 运维告警 webhook 地址
	// 环境变量 FLEET_ALERT_WEBHOOK_URL
	AlertWebhookURL string

	// PollInterval 编排器队列轮询间隔
	// 环境变量 FLEET_POLL_INTERVAL，默认 5s
	PollInterval time.Duration

	// MonitorInterval 健康监控间隔
	// 环境变量 FLEET_MONITOR_INTERVAL，默认 60s
	MonitorInterval time.Duration

	// ReconcileInterval 对账间隔
	// 环境变量 FLEET_RECONCILE_INTERVAL，默认 60s
	ReconcileInterval time.Duration

	// IdentityPoolSize worker identity 池大小
	// 环境变量 FLEET_IDENTITY_POOL_SIZE，默认 1024
	IdentityPoolSize int
}

func New() (*Config, error) {
	cfg := &Config{
		Address:           getEnv("FLEET_ADDRESS", "0.0.0.0:7777"),
		DataDir:           getDataDir(),
		EncryptionKey:     os.Getenv("FLEET_ENCRYPTION_KEY"),
		TierLimitsFile:    os.Getenv("FLEET_TIER_LIMITS_FILE"),
		RuntimeEndpoint:   getEnv("FLEET_RUNTIME_ENDPOINT", "http://127.0.0.1:2375"),
		InstanceImage:     getEnv("FLEET_INSTANCE_IMAGE", "fleet/instance:latest"),
		InstancePort:      getEnvInt("FLEET_INSTANCE_PORT", 3000),
		IngressIP:         os.Getenv("FLEET_INGRESS_IP"),
		ProxyEndpoint:     os.Getenv("FLEET_PROXY_ENDPOINT"),
		ProxyToken:        os.Getenv("FLEET_PROXY_TOKEN"),
		DNSEndpoint:       os.Getenv("FLEET_DNS_ENDPOINT"),
		DNSToken:          os.Getenv("FLEET_DNS_TOKEN"),
		DBHost:            getEnv("FLEET_DB_HOST", "127.0.0.1"),
		DBPort:            getEnvInt("FLEET_DB_PORT", 5432),
		DBAdminDSN:        os.Getenv("FLEET_DB_ADMIN_DSN"),
		S3Endpoint:        os.Getenv("FLEET_S3_ENDPOINT"),
		S3Region:          getEnv("FLEET_S3_REGION", "us-east-1"),
		S3AccessKey:       os.Getenv("FLEET_S3_ACCESS_KEY"),
		S3SecretKey:       os.Getenv("FLEET_S3_SECRET_KEY"),
		RelaySecret:       os.Getenv("FLEET_RELAY_SECRET"),
		AlertWebhookURL:   os.Getenv("FLEET_ALERT_WEBHOOK_URL"),
		PollInterval:      getEnvDuration("FLEET_POLL_INTERVAL", 5*time.Second),
		MonitorInterval:   getEnvDuration("FLEET_MONITOR_INTERVAL", 60*time.Second),
		ReconcileInterval: getEnvDuration("FLEET_RECONCILE_INTERVAL", 60*time.Second),
		IdentityPoolSize:  getEnvInt("FLEET_IDENTITY_POOL_SIZE", 1024),
	}

	if cfg.EncryptionKey == "" {
		return nil, fmt.Errorf("FLEET_ENCRYPTION_KEY is required")
	}
	return cfg, nil
}

// DBPath SQLite 数据库文件路径
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "fleet.db")
}

// getEnv 获取环境变量，未设置时返回默认值
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt 获取整数环境变量，未设置或非法时返回默认值
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration 获取时长环境变量，未设置或非法时返回默认值
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// getDataDir 获取数据目录，优先使用环境变量
func getDataDir() string {
	// 1. 优先使用环境变量 FLEET_DATA_DIR
	if dir := os.Getenv("FLEET_DATA_DIR"); dir != "" {
		return dir
	}

	// 2. 使用用户主目录下的 .local/share/fleet
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "fleet")
	}

	// 3. 如果无法获取主目录，使用当前目录下的 data
	return filepath.Join(".", "data")
}
