package dns

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockProvider 是 Provider 的 mock 实现
type MockProvider struct {
	mock.Mock
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider 创建 MockProvider
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (m *MockProvider) CreateARecord(ctx context.Context, domain, ip string) error {
	args := m.Called(ctx, domain, ip)
	return args.Error(0)
}

func (m *MockProvider) ARecordExists(ctx context.Context, domain string) (bool, error) {
	args := m.Called(ctx, domain)
	return args.Bool(0), args.Error(1)
}

func (m *MockProvider) DeleteARecord(ctx context.Context, domain string) error {
	args := m.Called(ctx, domain)
	return args.Error(0)
}
