package alert

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockNotifier 是 Notifier 的 mock 实现
type MockNotifier struct {
	mock.Mock
}

var _ Notifier = (*MockNotifier)(nil)

// NewMockNotifier 创建 MockNotifier
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) SendInstanceHealthAlert(ctx context.Context, instanceID, domain string, failureCount int, lastError string) error {
	args := m.Called(ctx, instanceID, domain, failureCount, lastError)
	return args.Error(0)
}
