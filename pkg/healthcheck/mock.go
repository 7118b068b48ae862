package healthcheck

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockProber 是 Prober 的 mock 实现
type MockProber struct {
	mock.Mock
}

var _ Prober = (*MockProber)(nil)

// NewMockProber 创建 MockProber
func NewMockProber() *MockProber {
	return &MockProber{}
}

func (m *MockProber) VerifyInstanceHealth(ctx context.Context, domain string) *Result {
	args := m.Called(ctx, domain)
	return args.Get(0).(*Result)
}
