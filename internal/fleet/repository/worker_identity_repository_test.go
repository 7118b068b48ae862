package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestWorkerIdentityRepository_EnsurePool(t *testing.T) {
	t.Parallel()

	repo := setupTestDB(t)
	identities := NewWorkerIdentityRepository(repo.DB())
	ctx := context.Background()

	require.NoError(t, identities.EnsurePool(ctx, 16))

	// 重复调用不会清掉已分配的绑定
	id, err := identities.Claim(ctx, "in-1")
	require.NoError(t, err)
	require.NoError(t, identities.EnsurePool(ctx, 16))

	row, err := identities.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, row.InstanceID)
	assert.Equal(t, "in-1", *row.InstanceID)
}

func TestWorkerIdentityRepository_ClaimAndRelease(t *testing.T) {
	t.Parallel()

	repo := setupTestDB(t)
	identities := NewWorkerIdentityRepository(repo.DB())
	ctx := context.Background()
	require.NoError(t, identities.EnsurePool(ctx, 4))

	t.Run("claim binds the lowest free identity", func(t *testing.T) {
		id, err := identities.Claim(ctx, "in-1")
		require.NoError(t, err)
		assert.Equal(t, 0, id)

		row, err := identities.GetByInstanceID(ctx, "in-1")
		require.NoError(t, err)
		assert.Equal(t, 0, row.ID)
		assert.NotNil(t, row.AllocatedAt)
	})

	t.Run("release makes the identity reusable", func(t *testing.T) {
		require.NoError(t, identities.Release(ctx, 0))

		_, err := identities.GetByInstanceID(ctx, "in-1")
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

		id, err := identities.Claim(ctx, "in-2")
		require.NoError(t, err)
		assert.Equal(t, 0, id)
	})

	t.Run("tombstoned identity is never handed out", func(t *testing.T) {
		require.NoError(t, identities.Release(ctx, 0))
		require.NoError(t, identities.Tombstone(ctx, 0))

		id, err := identities.Claim(ctx, "in-3")
		require.NoError(t, err)
		assert.NotEqual(t, 0, id)
	})
}

func TestWorkerIdentityRepository_PoolExhausted(t *testing.T) {
	t.Parallel()

	repo := setupTestDB(t)
	identities := NewWorkerIdentityRepository(repo.DB())
	ctx := context.Background()
	require.NoError(t, identities.EnsurePool(ctx, 2))

	_, err := identities.Claim(ctx, "in-1")
	require.NoError(t, err)
	_, err = identities.Claim(ctx, "in-2")
	require.NoError(t, err)

	// 池耗尽必须显式失败，不能发出冲突的 identity
	_, err = identities.Claim(ctx, "in-3")
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestWorkerIdentityRepository_ConcurrentClaims(t *testing.T) {
	t.Parallel()

	repo := setupTestDB(t)
	identities := NewWorkerIdentityRepository(repo.DB())
	ctx := context.Background()

	// 认领者多于空闲行：恰好 poolSize 个成功，其余全部
	// 显式报 ErrPoolExhausted，不允许出现第三种结果
	const (
		poolSize = 8
		workers  = 16
	)
	require.NoError(t, identities.EnsurePool(ctx, poolSize))

	type outcome struct {
		id  int
		err error
	}

	var wg sync.WaitGroup
	results := make(chan outcome, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id, err := identities.Claim(ctx, fmt.Sprintf("in-%d", n))
			results <- outcome{id: id, err: err}
		}(i)
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	var exhausted int
	for r := range results {
		if r.err != nil {
			// 失败只允许是池耗尽，不能漏出驱动层的锁错误
			require.ErrorIs(t, r.err, ErrPoolExhausted)
			exhausted++
			continue
		}
		assert.False(t, seen[r.id], "identity %d was claimed twice", r.id)
		seen[r.id] = true
	}

	assert.Len(t, seen, poolSize)
	assert.Equal(t, workers-poolSize, exhausted)
}
