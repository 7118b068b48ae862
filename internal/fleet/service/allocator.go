package service

import (
	"context"
	"errors"

	"github.com/jimyag/fleet/internal/fleet/repository"
	"github.com/jimyag/fleet/pkg/apierror"
	"github.com/jimyag/fleet/pkg/snowflake"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// DefaultIdentityPoolSize ID 方案的 identity 位宽决定的池大小（10 bit）
const DefaultIdentityPoolSize = snowflake.MaxWorkerID + 1

// WorkerIdentityAllocator worker identity 分配器
// 池大小固定，分配的仲裁完全交给存储层的条件更新；
// 池耗尽必须显式失败，绝不能发出可能冲突的 identity
type WorkerIdentityAllocator struct {
	identityRepo repository.WorkerIdentityRepository
	poolSize     int
}

// NewWorkerIdentityAllocator 创建 worker identity 分配器
func NewWorkerIdentityAllocator(identityRepo repository.WorkerIdentityRepository, poolSize int) *WorkerIdentityAllocator {
	if poolSize <= 0 || poolSize > DefaultIdentityPoolSize {
		poolSize = DefaultIdentityPoolSize
	}
	return &WorkerIdentityAllocator{
		identityRepo: identityRepo,
		poolSize:     poolSize,
	}
}

// Init 填充注册表到池大小，已存在的行不动
// 重启时不会清掉已分配的绑定
func (a *WorkerIdentityAllocator) Init(ctx context.Context) error {
	if err := a.identityRepo.EnsurePool(ctx, a.poolSize); err != nil {
		return err
	}
	if bound, err := a.identityRepo.CountBound(ctx); err == nil {
		identityPoolInUse.Set(float64(bound))
	}
	return nil
}

// Allocate 为实例认领一个空闲 identity
// 实例已持有绑定时直接返回现有绑定（可重入）
func (a *WorkerIdentityAllocator) Allocate(ctx context.Context, instanceID string) (int, error) {
	logger := zerolog.Ctx(ctx)

	// 可重入：断点恢复时实例可能已经持有绑定
	existing, err := a.identityRepo.GetByInstanceID(ctx, instanceID)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, apierror.WrapError(apierror.ErrInternalError, "Failed to look up worker identity binding", err)
	}

	id, err := a.identityRepo.Claim(ctx, instanceID)
	if err != nil {
		if errors.Is(err, repository.ErrPoolExhausted) {
			return 0, apierror.WrapError(apierror.ErrIdentityPoolExhausted, "No free worker identity", err)
		}
		return 0, apierror.WrapError(apierror.ErrInternalError, "Failed to claim worker identity", err)
	}

	identityPoolInUse.Inc()
	logger.Info().
		Str("instance_id", instanceID).
		Int("worker_id", id).
		Msg("Worker identity allocated")
	return id, nil
}

// ReleaseFor 释放实例持有的 identity，使其可被复用
// 实例没有绑定时视为成功
func (a *WorkerIdentityAllocator) ReleaseFor(ctx context.Context, instanceID string) error {
	logger := zerolog.Ctx(ctx)

	binding, err := a.identityRepo.GetByInstanceID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return apierror.WrapError(apierror.ErrInternalError, "Failed to look up worker identity binding", err)
	}

	if err := a.identityRepo.Release(ctx, binding.ID); err != nil {
		return apierror.WrapError(apierror.ErrInternalError, "Failed to release worker identity", err)
	}

	identityPoolInUse.Dec()
	logger.Info().
		Str("instance_id", instanceID).
		Int("worker_id", binding.ID).
		Msg("Worker identity released")
	return nil
}
