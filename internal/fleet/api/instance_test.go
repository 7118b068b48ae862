package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jimyag/fleet/internal/fleet/entity"
	"github.com/jimyag/fleet/pkg/apierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockInstanceService 是 InstanceService 的 mock 实现
type MockInstanceService struct {
	mock.Mock
}

func (m *MockInstanceService) CreateInstance(ctx context.Context, req *entity.CreateInstanceRequest) (*entity.Instance, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Instance), args.Error(1)
}

func (m *MockInstanceService) ListInstances(ctx context.Context, filters map[string]interface{}) ([]*entity.Instance, error) {
	args := m.Called(ctx, filters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entity.Instance), args.Error(1)
}

func (m *MockInstanceService) GetInstance(ctx context.Context, instanceID string) (*entity.InstanceDetail, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.InstanceDetail), args.Error(1)
}

func (m *MockInstanceService) ListEvents(ctx context.Context, instanceID string) ([]*entity.ProvisioningEvent, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entity.ProvisioningEvent), args.Error(1)
}

func (m *MockInstanceService) DestroyInstance(ctx context.Context, instanceID string) (*entity.InstanceStateChange, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.InstanceStateChange), args.Error(1)
}

func setupInstanceRouter(mockService *MockInstanceService) *gin.Engine {
	router := gin.Default()
	instanceAPI := NewInstance(mockService)
	instanceAPI.RegisterRoutes(router.Group("/api"))
	return router
}

func TestInstance_CreateInstance(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name         string
		body         interface{}
		mockSetup    func(*MockInstanceService)
		expectStatus int
	}{
		{
			name: "successful create",
			body: &entity.CreateInstanceRequest{
				TenantID: "t-1",
				Domain:   "acme.example.com",
				Tier:     "standard",
			},
			mockSetup: func(m *MockInstanceService) {
				m.On("CreateInstance", mock.Anything, mock.AnythingOfType("*entity.CreateInstanceRequest")).
					Return(&entity.Instance{
						ID:       "in-1",
						TenantID: "t-1",
						Domain:   "acme.example.com",
						Status:   "pending",
					}, nil)
			},
			expectStatus: http.StatusCreated,
		},
		{
			name: "invalid parameter maps to 400",
			body: &entity.CreateInstanceRequest{
				TenantID: "t-1",
				Domain:   "not a domain",
			},
			mockSetup: func(m *MockInstanceService) {
				m.On("CreateInstance", mock.Anything, mock.AnythingOfType("*entity.CreateInstanceRequest")).
					Return(nil, apierror.WrapError(apierror.ErrInvalidParameter, "domain is not a valid hostname", nil))
			},
			expectStatus: http.StatusBadRequest,
		},
		{
			name: "tier limit maps to 403",
			body: &entity.CreateInstanceRequest{
				TenantID: "t-1",
				Domain:   "acme.example.com",
			},
			mockSetup: func(m *MockInstanceService) {
				m.On("CreateInstance", mock.Anything, mock.AnythingOfType("*entity.CreateInstanceRequest")).
					Return(nil, apierror.WrapError(apierror.ErrTierLimitExceeded, "Tenant has reached its instance limit", nil))
			},
			expectStatus: http.StatusForbidden,
		},
		{
			name: "unexpected error maps to 500",
			body: &entity.CreateInstanceRequest{
				TenantID: "t-1",
				Domain:   "acme.example.com",
			},
			mockSetup: func(m *MockInstanceService) {
				m.On("CreateInstance", mock.Anything, mock.AnythingOfType("*entity.CreateInstanceRequest")).
					Return(nil, assert.AnError)
			},
			expectStatus: http.StatusInternalServerError,
		},
	}

	for _, tc := range testcases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mockService := new(MockInstanceService)
			if tc.mockSetup != nil {
				tc.mockSetup(mockService)
			}
			router := setupInstanceRouter(mockService)

			reqBody, _ := json.Marshal(tc.body)
			req := httptest.NewRequest(http.MethodPost, "/api/instances", bytes.NewBuffer(reqBody))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tc.expectStatus, w.Code)
			mockService.AssertExpectations(t)
		})
	}
}

func TestInstance_CreateInstance_MalformedBody(t *testing.T) {
	t.Parallel()

	mockService := new(MockInstanceService)
	router := setupInstanceRouter(mockService)

	req := httptest.NewRequest(http.MethodPost, "/api/instances", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	// 服务层根本不会被调用
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, mockService.Calls)
}

func TestInstance_ListInstances(t *testing.T) {
	t.Parallel()

	t.Run("query parameters become filters", func(t *testing.T) {
		t.Parallel()

		mockService := new(MockInstanceService)
		mockService.On("ListInstances", mock.Anything, map[string]interface{}{
			"status":    "running",
			"tenant_id": "t-1",
		}).Return([]*entity.Instance{
			{ID: "in-1", Status: "running"},
		}, nil)
		router := setupInstanceRouter(mockService)

		req := httptest.NewRequest(http.MethodGet, "/api/instances?status=running&tenant_id=t-1", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("no filters means empty map", func(t *testing.T) {
		t.Parallel()

		mockService := new(MockInstanceService)
		mockService.On("ListInstances", mock.Anything, map[string]interface{}{}).
			Return([]*entity.Instance{}, nil)
		router := setupInstanceRouter(mockService)

		req := httptest.NewRequest(http.MethodGet, "/api/instances", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockService.AssertExpectations(t)
	})
}

func TestInstance_GetInstance(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name         string
		instanceID   string
		mockSetup    func(*MockInstanceService)
		expectStatus int
	}{
		{
			name:       "found with health",
			instanceID: "in-1",
			mockSetup: func(m *MockInstanceService) {
				m.On("GetInstance", mock.Anything, "in-1").
					Return(&entity.InstanceDetail{
						Instance: &entity.Instance{ID: "in-1", Status: "running"},
						Health:   &entity.Health{InstanceID: "in-1", IsHealthy: true},
					}, nil)
			},
			expectStatus: http.StatusOK,
		},
		{
			name:       "not found maps to 404",
			instanceID: "in-missing",
			mockSetup: func(m *MockInstanceService) {
				m.On("GetInstance", mock.Anything, "in-missing").
					Return(nil, apierror.WrapError(apierror.ErrResourceNotFound, "Instance does not exist", nil))
			},
			expectStatus: http.StatusNotFound,
		},
	}

	for _, tc := range testcases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mockService := new(MockInstanceService)
			tc.mockSetup(mockService)
			router := setupInstanceRouter(mockService)

			req := httptest.NewRequest(http.MethodGet, "/api/instances/"+tc.instanceID, nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tc.expectStatus, w.Code)
			mockService.AssertExpectations(t)
		})
	}
}

func TestInstance_ListEvents(t *testing.T) {
	t.Parallel()

	mockService := new(MockInstanceService)
	mockService.On("ListEvents", mock.Anything, "in-1").
		Return([]*entity.ProvisioningEvent{
			{InstanceID: "in-1", Phase: "provision", Step: "create_network", Status: "succeeded"},
			{InstanceID: "in-1", Phase: "provision", Step: "create_container", Status: "failed", Error: "image pull failed"},
		}, nil)
	router := setupInstanceRouter(mockService)

	req := httptest.NewRequest(http.MethodGet, "/api/instances/in-1/events", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Events []*entity.ProvisioningEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Events, 2)
	mockService.AssertExpectations(t)
}

func TestInstance_DestroyInstance(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name         string
		instanceID   string
		mockSetup    func(*MockInstanceService)
		expectStatus int
	}{
		{
			name:       "successful destroy",
			instanceID: "in-1",
			mockSetup: func(m *MockInstanceService) {
				m.On("DestroyInstance", mock.Anything, "in-1").
					Return(&entity.InstanceStateChange{
						InstanceID:     "in-1",
						PreviousStatus: "running",
						CurrentStatus:  "destroyed",
					}, nil)
			},
			expectStatus: http.StatusOK,
		},
		{
			name:       "already destroyed maps to 409",
			instanceID: "in-1",
			mockSetup: func(m *MockInstanceService) {
				m.On("DestroyInstance", mock.Anything, "in-1").
					Return(nil, apierror.WrapError(apierror.ErrInstanceNotRunnable, "Instance is already destroyed", nil))
			},
			expectStatus: http.StatusConflict,
		},
		{
			name:       "not found maps to 404",
			instanceID: "in-missing",
			mockSetup: func(m *MockInstanceService) {
				m.On("DestroyInstance", mock.Anything, "in-missing").
					Return(nil, apierror.WrapError(apierror.ErrResourceNotFound, "Instance does not exist", nil))
			},
			expectStatus: http.StatusNotFound,
		},
	}

	for _, tc := range testcases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mockService := new(MockInstanceService)
			tc.mockSetup(mockService)
			router := setupInstanceRouter(mockService)

			req := httptest.NewRequest(http.MethodDelete, "/api/instances/"+tc.instanceID, nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tc.expectStatus, w.Code)
			mockService.AssertExpectations(t)
		})
	}
}
