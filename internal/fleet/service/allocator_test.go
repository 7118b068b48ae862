package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/jimyag/fleet/pkg/apierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerIdentityAllocator(t *testing.T) {
	t.Parallel()

	t.Run("allocate is reentrant per instance", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()

		first, err := ts.Allocator.Allocate(ctx, "in-1")
		require.NoError(t, err)

		// 断点恢复时再次分配返回同一个绑定
		second, err := ts.Allocator.Allocate(ctx, "in-1")
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("exhausted pool is an explicit error", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()

		// 测试池大小是 16，占满它
		for i := 0; i < 16; i++ {
			_, err := ts.Allocator.Allocate(ctx, fmt.Sprintf("in-%d", i))
			require.NoError(t, err)
		}

		_, err := ts.Allocator.Allocate(ctx, "in-overflow")
		require.Error(t, err)
		assert.ErrorIs(t, err, apierror.ErrIdentityPoolExhausted)
	})

	t.Run("release makes identity reusable", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()

		id, err := ts.Allocator.Allocate(ctx, "in-1")
		require.NoError(t, err)
		require.NoError(t, ts.Allocator.ReleaseFor(ctx, "in-1"))

		// 释放后同一 identity 可以绑定到别的实例
		again, err := ts.Allocator.Allocate(ctx, "in-2")
		require.NoError(t, err)
		assert.Equal(t, id, again)
	})

	t.Run("release without binding is a no-op", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		assert.NoError(t, ts.Allocator.ReleaseFor(context.Background(), "in-unbound"))
	})
}
