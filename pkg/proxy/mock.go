package proxy

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockManager 是 Manager 的 mock 实现
type MockManager struct {
	mock.Mock
}

var _ Manager = (*MockManager)(nil)

// NewMockManager 创建 MockManager
func NewMockManager() *MockManager {
	return &MockManager{}
}

func (m *MockManager) CreateRoute(ctx context.Context, domain, backend string) (string, error) {
	args := m.Called(ctx, domain, backend)
	return args.String(0), args.Error(1)
}

func (m *MockManager) VerifyRoute(ctx context.Context, routeID string) (bool, error) {
	args := m.Called(ctx, routeID)
	return args.Bool(0), args.Error(1)
}

func (m *MockManager) DeleteRoute(ctx context.Context, routeID string) error {
	args := m.Called(ctx, routeID)
	return args.Error(0)
}
