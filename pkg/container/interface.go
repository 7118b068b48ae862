// Package container 提供容器运行时客户端
// 对运行时 API 的抽象，网络和容器都以不透明字符串 ID 标识，
// 便于测试和 mock
package container

import "context"

// Spec 创建容器的参数
type Spec struct {
	Name          string            // 容器名称
	Image         string            // 镜像
	NetworkID     string            // 加入的隔离网络
	Env           map[string]string // 环境变量（数据库凭证、bootstrap token 等）
	RestartPolicy string            // 运行时重启策略，例如 unless-stopped
}

// Runtime 定义容器运行时客户端接口
type Runtime interface {
	// 网络操作
	CreateNetwork(ctx context.Context, name string) (string, error)
	NetworkExists(ctx context.Context, networkID string) (bool, error)
	RemoveNetwork(ctx context.Context, networkID string) error

	// 容器操作
	CreateContainer(ctx context.Context, spec *Spec) (string, error)
	ContainerRunning(ctx context.Context, containerID string) (bool, error)
	StopContainer(ctx context.Context, containerID string) error
	RemoveContainer(ctx context.Context, containerID string) error
}
