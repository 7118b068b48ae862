package objstore

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

func (m *MockProvisioner) ProvisionBucket(ctx context.Context, bucket, accessKey string) error {
	args := m.Called(ctx, bucket, accessKey)
	return args.Error(0)
}

func (m *MockProvisioner) BucketExists(ctx context.Context, bucket string) (bool, error) {
	args := m.Called(ctx, bucket)
	return args.Bool(0), args.Error(1)
}

func (m *MockProvisioner) DeprovisionBucket(ctx context.Context, bucket string) error {
	args := m.Called(ctx, bucket)
	return args.Error(0)
}
