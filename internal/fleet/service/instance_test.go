package service

import (
	"context"
	"errors"
	"testing"

	"github.com/jimyag/fleet/internal/fleet/entity"
	"github.com/jimyag/fleet/internal/fleet/repository/model"
	"github.com/jimyag/fleet/pkg/apierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeDestroyer 记录销毁调用，可注入失败
type fakeDestroyer struct {
	runs []string
	err  error
}

func (f *fakeDestroyer) Run(_ context.Context, instanceID string) error {
	f.runs = append(f.runs, instanceID)
	if f.err != nil {
		return f.err
	}
	return nil
}

func setupInstanceService(ts *TestServices, destroyer destroyRunner) *InstanceService {
	if destroyer == nil {
		destroyer = &fakeDestroyer{}
	}
	return NewInstanceService(
		ts.InstanceRepo, ts.HealthRepo, ts.EventRepo, ts.BillingRepo, ts.QueueRepo,
		destroyer, DefaultTierLimits(),
	)
}

func TestInstanceService_CreateInstance(t *testing.T) {
	t.Parallel()

	t.Run("creates pending instance and enqueues it", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()
		s := setupInstanceService(ts, nil)

		instance, err := s.CreateInstance(ctx, &entity.CreateInstanceRequest{
			TenantID: "t-1",
			Domain:   "acme.example.com",
			Name:     "Acme",
			Tier:     "standard",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, instance.ID)
		assert.Equal(t, model.StatusPending, instance.Status)
		assert.Equal(t, "Acme", instance.Name)

		// 入队等待编排器消费
		pending, err := ts.QueueRepo.ListPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{instance.ID}, pending)

		billing, err := ts.BillingRepo.GetByInstanceID(ctx, instance.ID)
		require.NoError(t, err)
		assert.Equal(t, "standard", billing.Tier)
	})

	t.Run("tier defaults to free", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()
		s := setupInstanceService(ts, nil)

		instance, err := s.CreateInstance(ctx, &entity.CreateInstanceRequest{
			TenantID: "t-1",
			Domain:   "acme.example.com",
		})
		require.NoError(t, err)

		billing, err := ts.BillingRepo.GetByInstanceID(ctx, instance.ID)
		require.NoError(t, err)
		assert.Equal(t, "free", billing.Tier)
		// 名称缺省用域名
		assert.Equal(t, "acme.example.com", instance.Name)
	})

	t.Run("rejects missing tenant", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		s := setupInstanceService(ts, nil)

		_, err := s.CreateInstance(context.Background(), &entity.CreateInstanceRequest{
			Domain: "acme.example.com",
		})
		assert.ErrorIs(t, err, apierror.ErrInvalidParameter)
	})

	t.Run("rejects invalid domains", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		s := setupInstanceService(ts, nil)

		for _, domain := range []string{"", "acme", "Acme.Example.Com", "-bad.example.com", "a b.example.com"} {
			_, err := s.CreateInstance(context.Background(), &entity.CreateInstanceRequest{
				TenantID: "t-1",
				Domain:   domain,
			})
			assert.ErrorIs(t, err, apierror.ErrInvalidParameter, "domain %q", domain)
		}
	})

	t.Run("rejects unknown tier", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		s := setupInstanceService(ts, nil)

		_, err := s.CreateInstance(context.Background(), &entity.CreateInstanceRequest{
			TenantID: "t-1",
			Domain:   "acme.example.com",
			Tier:     "platinum",
		})
		assert.ErrorIs(t, err, apierror.ErrInvalidParameter)
	})

	t.Run("enforces tenant instance limit", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()
		s := setupInstanceService(ts, nil)

		// free 套餐只允许 1 个实例
		_, err := s.CreateInstance(ctx, &entity.CreateInstanceRequest{
			TenantID: "t-1",
			Domain:   "first.example.com",
			Tier:     "free",
		})
		require.NoError(t, err)

		_, err = s.CreateInstance(ctx, &entity.CreateInstanceRequest{
			TenantID: "t-1",
			Domain:   "second.example.com",
			Tier:     "free",
		})
		assert.ErrorIs(t, err, apierror.ErrTierLimitExceeded)

		// 别的租户不受影响
		_, err = s.CreateInstance(ctx, &entity.CreateInstanceRequest{
			TenantID: "t-2",
			Domain:   "other.example.com",
			Tier:     "free",
		})
		assert.NoError(t, err)
	})

	t.Run("rejects duplicate domain", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()
		s := setupInstanceService(ts, nil)

		_, err := s.CreateInstance(ctx, &entity.CreateInstanceRequest{
			TenantID: "t-1",
			Domain:   "acme.example.com",
			Tier:     "standard",
		})
		require.NoError(t, err)

		_, err = s.CreateInstance(ctx, &entity.CreateInstanceRequest{
			TenantID: "t-2",
			Domain:   "acme.example.com",
			Tier:     "standard",
		})
		assert.ErrorIs(t, err, apierror.ErrInvalidParameter)
	})
}

func TestInstanceService_GetInstance(t *testing.T) {
	t.Parallel()

	t.Run("returns detail without health record", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()
		ts.createTestInstance(t, "in-1", "t-1", "acme.example.com", model.StatusRunning)
		s := setupInstanceService(ts, nil)

		detail, err := s.GetInstance(ctx, "in-1")
		require.NoError(t, err)
		assert.Equal(t, "in-1", detail.Instance.ID)
		assert.Nil(t, detail.Health)
	})

	t.Run("includes health record when present", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()
		ts.createTestInstance(t, "in-1", "t-1", "acme.example.com", model.StatusRunning)
		s := setupInstanceService(ts, nil)

		health, err := ts.HealthRepo.EnsureExists(ctx, "in-1")
		require.NoError(t, err)
		health.IsHealthy = true
		health.LastResponseMs = 12
		require.NoError(t, ts.HealthRepo.Update(ctx, health))

		detail, err := s.GetInstance(ctx, "in-1")
		require.NoError(t, err)
		require.NotNil(t, detail.Health)
		assert.True(t, detail.Health.IsHealthy)
		assert.Equal(t, int64(12), detail.Health.LastResponseMs)
	})

	t.Run("missing instance returns not found", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		s := setupInstanceService(ts, nil)

		_, err := s.GetInstance(context.Background(), "in-missing")
		assert.ErrorIs(t, err, apierror.ErrResourceNotFound)
	})
}

func TestInstanceService_ListInstances(t *testing.T) {
	t.Parallel()

	ts := setupTestServices(t)
	ctx := context.Background()
	ts.createTestInstance(t, "in-1", "t-1", "one.example.com", model.StatusRunning)
	ts.createTestInstance(t, "in-2", "t-1", "two.example.com", model.StatusFailed)
	ts.createTestInstance(t, "in-3", "t-2", "three.example.com", model.StatusRunning)
	s := setupInstanceService(ts, nil)

	all, err := s.ListInstances(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	running, err := s.ListInstances(ctx, map[string]interface{}{"status": model.StatusRunning})
	require.NoError(t, err)
	assert.Len(t, running, 2)

	tenant, err := s.ListInstances(ctx, map[string]interface{}{"tenant_id": "t-2"})
	require.NoError(t, err)
	require.Len(t, tenant, 1)
	assert.Equal(t, "in-3", tenant[0].ID)
}

func TestInstanceService_DestroyInstance(t *testing.T) {
	t.Parallel()

	t.Run("runs destruction pipeline and reports transition", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()
		ts.createTestInstance(t, "in-1", "t-1", "acme.example.com", model.StatusRunning)
		destroyer := &fakeDestroyer{}
		s := setupInstanceService(ts, destroyer)

		change, err := s.DestroyInstance(ctx, "in-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"in-1"}, destroyer.runs)
		assert.Equal(t, model.StatusRunning, change.PreviousStatus)
		assert.Equal(t, model.StatusDestroyed, change.CurrentStatus)
	})

	t.Run("missing instance returns not found", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		destroyer := &fakeDestroyer{}
		s := setupInstanceService(ts, destroyer)

		_, err := s.DestroyInstance(context.Background(), "in-missing")
		assert.ErrorIs(t, err, apierror.ErrResourceNotFound)
		assert.Empty(t, destroyer.runs)
	})

	t.Run("already destroyed instance is rejected", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()
		ts.createTestInstance(t, "in-1", "t-1", "acme.example.com", model.StatusDestroyed)
		destroyer := &fakeDestroyer{}
		s := setupInstanceService(ts, destroyer)

		_, err := s.DestroyInstance(ctx, "in-1")
		assert.ErrorIs(t, err, apierror.ErrInstanceNotRunnable)
		assert.Empty(t, destroyer.runs)
	})

	t.Run("destroy failure propagates", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()
		ts.createTestInstance(t, "in-1", "t-1", "acme.example.com", model.StatusRunning)
		destroyer := &fakeDestroyer{err: errors.New("journal write failed")}
		s := setupInstanceService(ts, destroyer)

		_, err := s.DestroyInstance(ctx, "in-1")
		assert.Error(t, err)
	})
}

func TestInstanceService_ListEvents(t *testing.T) {
	t.Parallel()

	t.Run("missing instance returns not found", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		s := setupInstanceService(ts, nil)

		_, err := s.ListEvents(context.Background(), "in-missing")
		assert.ErrorIs(t, err, apierror.ErrResourceNotFound)
	})

	t.Run("events survive instance soft delete", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()
		ts.createTestInstance(t, "in-1", "t-1", "acme.example.com", model.StatusRunning)
		ts.MockDNS.On("DeleteARecord", mock.Anything, "acme.example.com").Return(nil)
		ts.MockStore.On("DeprovisionBucket", mock.Anything, "fleet-acme").Return(nil)
		require.NoError(t, ts.Destroyer.Run(ctx, "in-1"))
		s := setupInstanceService(ts, nil)

		events, err := s.ListEvents(ctx, "in-1")
		require.NoError(t, err)
		assert.NotEmpty(t, events)
		for _, e := range events {
			assert.Equal(t, model.PhaseDestroy, e.Phase)
		}
	})
}
