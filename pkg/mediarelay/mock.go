package mediarelay

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockCredentialService 是 CredentialService 的 mock 实现
type MockCredentialService struct {
	mock.Mock
}

var _ CredentialService = (*MockCredentialService)(nil)

// NewMockCredentialService 创建 MockCredentialService
func NewMockCredentialService() *MockCredentialService {
	return &MockCredentialService{}
}

func (m *MockCredentialService) IssueCredentials(ctx context.Context, instanceID string) (*Credentials, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Credentials), args.Error(1)
}

func (m *MockCredentialService) RevokeCredentials(ctx context.Context, apiKey string) error {
	args := m.Called(ctx, apiKey)
	return args.Error(0)
}
