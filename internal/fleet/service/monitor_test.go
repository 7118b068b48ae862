package service

import (
	"context"
	"testing"
	"time"

	"github.com/jimyag/fleet/internal/fleet/repository/model"
	"github.com/jimyag/fleet/pkg/healthcheck"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// setupMonitor 创建不带启动延迟的监控器
func setupMonitor(ts *TestServices) *HealthMonitor {
	m := NewHealthMonitor(
		ts.InstanceRepo, ts.InfraRepo, ts.HealthRepo,
		ts.MockRuntime, ts.MockProxy, ts.MockProber, ts.MockNotifier,
		time.Minute,
	)
	m.startDelay = 0
	m.restartWait = 0
	return m
}

func TestHealthMonitor_CheckInstance(t *testing.T) {
	t.Parallel()

	t.Run("healthy check resets failure count", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()
		instance := ts.createTestInstance(t, "in-1", "t-1", "acme.example.com", model.StatusRunning)
		ts.createTestInfra(t, "in-1")
		m := setupMonitor(ts)

		// 之前积累了两次失败
		health, err := ts.HealthRepo.EnsureExists(ctx, "in-1")
		require.NoError(t, err)
		health.IsHealthy = false
		health.ConsecutiveFailures = 2
		health.LastError = "probe timeout"
		require.NoError(t, ts.HealthRepo.Update(ctx, health))

		ts.MockRuntime.On("ContainerRunning", mock.Anything, "ctr-in-1").Return(true, nil)
		ts.MockProxy.On("VerifyRoute", mock.Anything, "rt-in-1").Return(true, nil)
		ts.MockProber.On("VerifyInstanceHealth", mock.Anything, "acme.example.com").
			Return(&healthcheck.Result{Healthy: true, ResponseTimeMs: 42})

		m.CheckInstance(ctx, instance)

		got, err := ts.HealthRepo.GetByInstanceID(ctx, "in-1")
		require.NoError(t, err)
		assert.True(t, got.IsHealthy)
		assert.Zero(t, got.ConsecutiveFailures)
		assert.Empty(t, got.LastError)
		assert.Equal(t, int64(42), got.LastResponseMs)
		assert.NotNil(t, got.LastCheckedAt)
	})

	t.Run("container check short-circuits remaining checks", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()
		instance := ts.createTestInstance(t, "in-1", "t-1", "acme.example.com", model.StatusRunning)
		ts.createTestInfra(t, "in-1")
		m := setupMonitor(ts)

		ts.MockRuntime.On("ContainerRunning", mock.Anything, "ctr-in-1").Return(false, nil)

		m.CheckInstance(ctx, instance)

		// 路由和应用探测都没执行
		assert.Empty(t, ts.MockProxy.Calls)
		assert.Empty(t, ts.MockProber.Calls)

		got, err := ts.HealthRepo.GetByInstanceID(ctx, "in-1")
		require.NoError(t, err)
		assert.False(t, got.IsHealthy)
		assert.Equal(t, 1, got.ConsecutiveFailures)
		assert.Contains(t, got.LastError, "container is not running")
	})

	t.Run("restart at exactly the restart threshold", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()
		instance := ts.createTestInstance(t, "in-1", "t-1", "acme.example.com", model.StatusRunning)
		ts.createTestInfra(t, "in-1")
		m := setupMonitor(ts)

		ts.MockRuntime.On("ContainerRunning", mock.Anything, "ctr-in-1").Return(true, nil)
		ts.MockProxy.On("VerifyRoute", mock.Anything, "rt-in-1").Return(true, nil)
		ts.MockProber.On("VerifyInstanceHealth", mock.Anything, "acme.example.com").
			Return(&healthcheck.Result{ErrorMessage: "status 500"})
		ts.MockRuntime.On("StopContainer", mock.Anything, "ctr-in-1").Return(nil)
		ts.MockNotifier.On("SendInstanceHealthAlert", mock.Anything, "in-1", "acme.example.com", AlertThreshold, "status 500").Return(nil)

		// 连续失败 6 次
		for i := 0; i < 6; i++ {
			m.CheckInstance(ctx, instance)
		}

		// 重启只在恰好越过阈值的第 3 次触发，告警只在第 5 次触发
		ts.MockRuntime.AssertNumberOfCalls(t, "StopContainer", 1)
		ts.MockNotifier.AssertNumberOfCalls(t, "SendInstanceHealthAlert", 1)

		got, err := ts.HealthRepo.GetByInstanceID(ctx, "in-1")
		require.NoError(t, err)
		assert.Equal(t, 6, got.ConsecutiveFailures)
	})

	t.Run("recovery after failures allows thresholds to fire again", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()
		instance := ts.createTestInstance(t, "in-1", "t-1", "acme.example.com", model.StatusRunning)
		ts.createTestInfra(t, "in-1")
		m := setupMonitor(ts)

		ts.MockRuntime.On("ContainerRunning", mock.Anything, "ctr-in-1").Return(true, nil)
		ts.MockProxy.On("VerifyRoute", mock.Anything, "rt-in-1").Return(true, nil)
		ts.MockRuntime.On("StopContainer", mock.Anything, "ctr-in-1").Return(nil)

		unhealthy := &healthcheck.Result{ErrorMessage: "connection refused"}
		ts.MockProber.On("VerifyInstanceHealth", mock.Anything, "acme.example.com").Return(unhealthy).Times(3)
		ts.MockProber.On("VerifyInstanceHealth", mock.Anything, "acme.example.com").
			Return(&healthcheck.Result{Healthy: true, ResponseTimeMs: 10}).Once()
		ts.MockProber.On("VerifyInstanceHealth", mock.Anything, "acme.example.com").Return(unhealthy)

		// 3 连败触发重启，恢复一次清零，再 3 连败再次触发
		for i := 0; i < 7; i++ {
			m.CheckInstance(ctx, instance)
		}

		ts.MockRuntime.AssertNumberOfCalls(t, "StopContainer", 2)
	})
}

func TestHealthMonitor_MissingHealthRecordIsCreated(t *testing.T) {
	t.Parallel()

	ts := setupTestServices(t)
	ctx := context.Background()
	instance := ts.createTestInstance(t, "in-1", "t-1", "acme.example.com", model.StatusRunning)
	ts.createTestInfra(t, "in-1")
	m := setupMonitor(ts)

	ts.MockRuntime.On("ContainerRunning", mock.Anything, "ctr-in-1").Return(true, nil)
	ts.MockProxy.On("VerifyRoute", mock.Anything, "rt-in-1").Return(true, nil)
	ts.MockProber.On("VerifyInstanceHealth", mock.Anything, "acme.example.com").
		Return(&healthcheck.Result{Healthy: true, ResponseTimeMs: 7})

	m.CheckInstance(ctx, instance)

	health, err := ts.HealthRepo.GetByInstanceID(ctx, "in-1")
	require.NoError(t, err)
	assert.True(t, health.IsHealthy)
}
