package container

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockRuntime 是 Runtime 的 mock 实现
// 用于测试，不需要真实的容器运行时
type MockRuntime struct {
	mock.Mock
}

var _ Runtime = (*MockRuntime)(nil)

// NewMockRuntime 创建 MockRuntime
func NewMockRuntime() *MockRuntime {
	return &MockRuntime{}
}

func (m *MockRuntime) CreateNetwork(ctx context.Context, name string) (string, error) {
	args := m.Called(ctx, name)
	return args.String(0), args.Error(1)
}

func (m *MockRuntime) NetworkExists(ctx context.Context, networkID string) (bool, error) {
	args := m.Called(ctx, networkID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRuntime) RemoveNetwork(ctx context.Context, networkID string) error {
	args := m.Called(ctx, networkID)
	return args.Error(0)
}

func (m *MockRuntime) CreateContainer(ctx context.Context, spec *Spec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

func (m *MockRuntime) ContainerRunning(ctx context.Context, containerID string) (bool, error) {
	args := m.Called(ctx, containerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRuntime) StopContainer(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}
