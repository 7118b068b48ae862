package dbadmin

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockProvisioner 是 Provisioner 的 mock 实现
type MockProvisioner struct {
	mock.Mock
}

var _ Provisioner = (*MockProvisioner)(nil)

// NewMockProvisioner 创建 MockProvisioner
func NewMockProvisioner() *MockProvisioner {
	return &MockProvisioner{}
}

func (m *MockProvisioner) CreateDatabase(ctx context.Context, name, user, password string) error {
	args := m.Called(ctx, name, user, password)
	return args.Error(0)
}

func (m *MockProvisioner) DatabaseExists(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *MockProvisioner) DropDatabase(ctx context.Context, name, user string) error {
	args := m.Called(ctx, name, user)
	return args.Error(0)
}
