package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jimyag/fleet/internal/fleet/repository/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// setupTestDB 为每个测试用例创建独立的数据库
func setupTestDB(t *testing.T) *Repository {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	repo, err := New(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}

// newTestInstance 构造一个待插入的实例
func newTestInstance(id, tenantID, domain string) *model.Instance {
	now := time.Now()
	return &model.Instance{
		ID:        id,
		TenantID:  tenantID,
		Domain:    domain,
		Name:      domain,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestInstanceRepository_CRUD(t *testing.T) {
	t.Parallel()

	repo := setupTestDB(t)
	instances := NewInstanceRepository(repo.DB())
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		require.NoError(t, instances.Create(ctx, newTestInstance("in-1", "t-1", "one.example.com")))

		got, err := instances.GetByID(ctx, "in-1")
		require.NoError(t, err)
		assert.Equal(t, "t-1", got.TenantID)
		assert.Equal(t, model.StatusPending, got.Status)
		assert.Equal(t, 0, got.Version)
	})

	t.Run("get missing returns not found", func(t *testing.T) {
		_, err := instances.GetByID(ctx, "in-missing")
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})

	t.Run("soft delete hides instance", func(t *testing.T) {
		require.NoError(t, instances.Create(ctx, newTestInstance("in-2", "t-1", "two.example.com")))
		require.NoError(t, instances.Delete(ctx, "in-2"))

		_, err := instances.GetByID(ctx, "in-2")
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

		got, err := instances.GetByIDWithDeleted(ctx, "in-2")
		require.NoError(t, err)
		assert.Equal(t, "in-2", got.ID)
	})

	t.Run("list by status", func(t *testing.T) {
		inst := newTestInstance("in-3", "t-2", "three.example.com")
		inst.Status = model.StatusRunning
		require.NoError(t, instances.Create(ctx, inst))

		running, err := instances.ListByStatus(ctx, model.StatusRunning)
		require.NoError(t, err)
		require.Len(t, running, 1)
		assert.Equal(t, "in-3", running[0].ID)
	})
}

func TestInstanceRepository_UpdateWithVersion(t *testing.T) {
	t.Parallel()

	repo := setupTestDB(t)
	instances := NewInstanceRepository(repo.DB())
	ctx := context.Background()

	require.NoError(t, instances.Create(ctx, newTestInstance("in-1", "t-1", "one.example.com")))

	t.Run("update succeeds and bumps version", func(t *testing.T) {
		inst, err := instances.GetByID(ctx, "in-1")
		require.NoError(t, err)

		inst.Status = model.StatusProvisioning
		require.NoError(t, instances.UpdateWithVersion(ctx, inst))
		assert.Equal(t, 1, inst.Version)

		got, err := instances.GetByID(ctx, "in-1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusProvisioning, got.Status)
		assert.Equal(t, 1, got.Version)
	})

	t.Run("stale version is rejected", func(t *testing.T) {
		first, err := instances.GetByID(ctx, "in-1")
		require.NoError(t, err)
		second, err := instances.GetByID(ctx, "in-1")
		require.NoError(t, err)

		first.Status = model.StatusRunning
		require.NoError(t, instances.UpdateWithVersion(ctx, first))

		// second 还持有旧版本，两个写入者只有一个能赢
		second.Status = model.StatusFailed
		err = instances.UpdateWithVersion(ctx, second)
		assert.ErrorIs(t, err, ErrVersionConflict)

		got, err := instances.GetByID(ctx, "in-1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusRunning, got.Status)
	})
}

func TestInstanceRepository_ListProvisioningBefore(t *testing.T) {
	t.Parallel()

	repo := setupTestDB(t)
	instances := NewInstanceRepository(repo.DB())
	ctx := context.Background()

	old := newTestInstance("in-old", "t-1", "old.example.com")
	old.Status = model.StatusProvisioning
	old.CreatedAt = time.Now().Add(-10 * time.Minute)
	require.NoError(t, instances.Create(ctx, old))

	fresh := newTestInstance("in-fresh", "t-1", "fresh.example.com")
	fresh.Status = model.StatusProvisioning
	require.NoError(t, instances.Create(ctx, fresh))

	done := newTestInstance("in-done", "t-1", "done.example.com")
	done.Status = model.StatusRunning
	done.CreatedAt = time.Now().Add(-10 * time.Minute)
	require.NoError(t, instances.Create(ctx, done))

	stuck, err := instances.ListProvisioningBefore(ctx, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "in-old", stuck[0].ID)
}

func TestInstanceRepository_CountActiveByTenant(t *testing.T) {
	t.Parallel()

	repo := setupTestDB(t)
	instances := NewInstanceRepository(repo.DB())
	ctx := context.Background()

	running := newTestInstance("in-1", "t-1", "one.example.com")
	running.Status = model.StatusRunning
	require.NoError(t, instances.Create(ctx, running))

	pending := newTestInstance("in-2", "t-1", "two.example.com")
	require.NoError(t, instances.Create(ctx, pending))

	// destroyed 和 failed 不计入限额
	destroyed := newTestInstance("in-3", "t-1", "three.example.com")
	destroyed.Status = model.StatusDestroyed
	require.NoError(t, instances.Create(ctx, destroyed))

	failed := newTestInstance("in-4", "t-1", "four.example.com")
	failed.Status = model.StatusFailed
	require.NoError(t, instances.Create(ctx, failed))

	other := newTestInstance("in-5", "t-2", "five.example.com")
	require.NoError(t, instances.Create(ctx, other))

	count, err := instances.CountActiveByTenant(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestInfrastructureRepository_Upsert(t *testing.T) {
	t.Parallel()

	repo := setupTestDB(t)
	infras := NewInfrastructureRepository(repo.DB())
	ctx := context.Background()

	infra := &model.Infrastructure{
		InstanceID: "in-1",
		NetworkID:  "net-1",
	}
	require.NoError(t, infras.Upsert(ctx, infra))

	// 第二次 Upsert 更新同一行而不是新建
	infra.ContainerID = "ctr-1"
	require.NoError(t, infras.Upsert(ctx, infra))

	got, err := infras.GetByInstanceID(ctx, "in-1")
	require.NoError(t, err)
	assert.Equal(t, "net-1", got.NetworkID)
	assert.Equal(t, "ctr-1", got.ContainerID)

	var count int64
	require.NoError(t, repo.DB().Model(&model.Infrastructure{}).Where("instance_id = ?", "in-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestHealthRepository_EnsureExists(t *testing.T) {
	t.Parallel()

	repo := setupTestDB(t)
	healths := NewHealthRepository(repo.DB())
	ctx := context.Background()

	_, err := healths.GetByInstanceID(ctx, "in-1")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	// 懒创建，默认健康
	health, err := healths.EnsureExists(ctx, "in-1")
	require.NoError(t, err)
	assert.True(t, health.IsHealthy)
	assert.Equal(t, 0, health.ConsecutiveFailures)

	// 再次调用返回同一行
	health.ConsecutiveFailures = 2
	require.NoError(t, healths.Update(ctx, health))

	again, err := healths.EnsureExists(ctx, "in-1")
	require.NoError(t, err)
	assert.Equal(t, 2, again.ConsecutiveFailures)
}
