package service

import (
	"context"
	"errors"
	"time"

	"github.com/jimyag/fleet/internal/fleet/repository"
	"github.com/jimyag/fleet/internal/fleet/repository/model"
	"github.com/jimyag/fleet/pkg/container"
	"github.com/jimyag/fleet/pkg/healthcheck"
	"github.com/jimyag/fleet/pkg/proxy"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// StuckProvisioningTimeout 置备超过该时长仍未完成视为卡死
const StuckProvisioningTimeout = 5 * time.Minute

// Reconciler 漂移对账循环
// 每个周期做两个独立的 pass：
//  1. 对 running 实例核对外部资源，关键资源丢失（网络没了、
//     容器没在跑、基础设施记录缺失）直接转 failed，这类损失
//     没有靠重启恢复的路径，比 HealthMonitor 的阈值补救更果断；
//  2. 找出置备卡死的实例，重新入队并重置为 pending，这是置备
//     失败唯一的重试机制
type Reconciler struct {
	instanceRepo repository.InstanceRepository
	infraRepo    repository.InfrastructureRepository
	queueRepo    repository.QueueRepository
	eventRepo    repository.EventRepository

	runtime container.Runtime
	proxy   proxy.Manager
	prober  healthcheck.Prober

	interval     time.Duration
	startDelay   time.Duration
	stuckTimeout time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewReconciler 创建对账循环
func NewReconciler(
	instanceRepo repository.InstanceRepository,
	infraRepo repository.InfrastructureRepository,
	queueRepo repository.QueueRepository,
	eventRepo repository.EventRepository,
	runtime container.Runtime,
	proxyManager proxy.Manager,
	prober healthcheck.Prober,
	interval time.Duration,
) *Reconciler {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Reconciler{
		instanceRepo: instanceRepo,
		infraRepo:    infraRepo,
		queueRepo:    queueRepo,
		eventRepo:    eventRepo,
		runtime:      runtime,
		proxy:        proxyManager,
		prober:       prober,
		interval:     interval,
		startDelay:   5 * time.Second,
		stuckTimeout: StuckProvisioningTimeout,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Run 实现 grace.Grace 接口
func (r *Reconciler) Run(ctx context.Context) error {
	defer close(r.done)
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Dur("interval", r.interval).
		Msg("Reconciler started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("Reconciler stopped")
		return nil
	case <-r.stop:
		logger.Info().Msg("Reconciler stopped")
		return nil
	case <-time.After(r.startDelay):
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Reconciler stopped")
			return nil
		case <-r.stop:
			logger.Info().Msg("Reconciler stopped")
			return nil
		case <-ticker.C:
			r.ReconcileRunning(ctx)
			r.RequeueStuck(ctx)
		}
	}
}

// Shutdown 实现 grace.Grace 接口
func (r *Reconciler) Shutdown(ctx context.Context) error {
	close(r.stop)
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Name 实现 grace.Grace 接口
func (r *Reconciler) Name() string {
	return "Reconciler"
}

// ReconcileRunning pass 1：核对 running 实例的外部资源
// 单个实例的异常被捕获，不中断整轮对账
func (r *Reconciler) ReconcileRunning(ctx context.Context) {
	logger := zerolog.Ctx(ctx)

	instances, err := r.instanceRepo.ListByStatus(ctx, model.StatusRunning)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list running instances for reconciliation")
		reconcileTotal.WithLabelValues("running", "error").Inc()
		return
	}

	for _, instance := range instances {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		default:
		}
		r.reconcileInstance(ctx, instance)
	}
	reconcileTotal.WithLabelValues("running", "success").Inc()
}

// reconcileInstance 核对单个实例
func (r *Reconciler) reconcileInstance(ctx context.Context, instance *model.Instance) {
	logger := zerolog.Ctx(ctx)

	infra, err := r.infraRepo.GetByInstanceID(ctx, instance.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// running 实例没有基础设施记录，无从核对也无从恢复
			r.markFailed(ctx, instance, "infrastructure record missing")
			return
		}
		logger.Error().Err(err).
			Str("instance_id", instance.ID).
			Msg("Failed to load infrastructure record during reconciliation")
		return
	}

	// 关键资源：网络
	networkOK, err := r.runtime.NetworkExists(ctx, infra.NetworkID)
	if err != nil {
		logger.Error().Err(err).
			Str("instance_id", instance.ID).
			Msg("Failed to check network during reconciliation")
		return
	}
	if !networkOK {
		r.markFailed(ctx, instance, "network missing")
		return
	}

	// 关键资源：容器
	running, err := r.runtime.ContainerRunning(ctx, infra.ContainerID)
	if err != nil {
		logger.Error().Err(err).
			Str("instance_id", instance.ID).
			Msg("Failed to check container during reconciliation")
		return
	}
	if !running {
		r.markFailed(ctx, instance, "container not running")
		return
	}

	// 非关键问题：路由和应用健康只记录，交给 HealthMonitor 的
	// 阈值补救处理
	if infra.RouteID != "" {
		if ok, err := r.proxy.VerifyRoute(ctx, infra.RouteID); err == nil && !ok {
			logger.Warn().
				Str("instance_id", instance.ID).
				Str("route_id", infra.RouteID).
				Msg("Instance degraded: proxy route missing")
		}
	}
	if result := r.prober.VerifyInstanceHealth(ctx, instance.Domain); !result.Healthy {
		logger.Warn().
			Str("instance_id", instance.ID).
			Str("domain", instance.Domain).
			Str("error", result.ErrorMessage).
			Msg("Instance degraded: health endpoint unhealthy")
	}
}

// markFailed 把关键资源丢失的实例转为 failed
// 乐观锁冲突说明另一个循环正在处理同一实例，跳过本轮
func (r *Reconciler) markFailed(ctx context.Context, instance *model.Instance, reason string) {
	logger := zerolog.Ctx(ctx)

	instance.Status = model.StatusFailed
	if err := r.instanceRepo.UpdateWithVersion(ctx, instance); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			logger.Warn().
				Str("instance_id", instance.ID).
				Str("reason", reason).
				Msg("Skipping failover, instance was updated by another writer")
			return
		}
		logger.Error().Err(err).
			Str("instance_id", instance.ID).
			Msg("Failed to mark instance failed")
		return
	}

	instancesFailedTotal.WithLabelValues(reason).Inc()
	logger.Error().
		Str("instance_id", instance.ID).
		Str("domain", instance.Domain).
		Str("reason", reason).
		Msg("Critical resource lost, instance marked failed")
}

// RequeueStuck pass 2：重新入队卡死的置备
func (r *Reconciler) RequeueStuck(ctx context.Context) {
	logger := zerolog.Ctx(ctx)

	cutoff := time.Now().Add(-r.stuckTimeout)
	stuck, err := r.instanceRepo.ListProvisioningBefore(ctx, cutoff)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list stuck provisioning instances")
		reconcileTotal.WithLabelValues("stuck", "error").Inc()
		return
	}

	for _, instance := range stuck {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		default:
		}

		instance.Status = model.StatusPending
		if err := r.instanceRepo.UpdateWithVersion(ctx, instance); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				logger.Warn().
					Str("instance_id", instance.ID).
					Msg("Skipping requeue, instance was updated by another writer")
				continue
			}
			logger.Error().Err(err).
				Str("instance_id", instance.ID).
				Msg("Failed to reset stuck instance to pending")
			continue
		}

		if err := r.queueRepo.Enqueue(ctx, instance.ID); err != nil {
			logger.Error().Err(err).
				Str("instance_id", instance.ID).
				Msg("Failed to re-enqueue stuck instance")
			continue
		}

		stuckRequeuedTotal.Inc()
		// 第一个步骤每次流水线启动都会记一条事件，它的启动次数
		// 就是该实例已经跑过几轮置备
		attempts := r.provisionAttempts(ctx, instance.ID)
		logger.Warn().
			Str("instance_id", instance.ID).
			Time("created_at", instance.CreatedAt).
			Int64("attempts", attempts).
			Msg("Stuck provisioning detected, instance re-enqueued")
	}
	reconcileTotal.WithLabelValues("stuck", "success").Inc()
}

// provisionAttempts 从事件日志推算实例已经启动过几轮置备
// 查询失败不阻塞重新入队，按 0 处理
func (r *Reconciler) provisionAttempts(ctx context.Context, instanceID string) int64 {
	attempts, err := r.eventRepo.CountStepRuns(ctx, instanceID, model.PhaseProvision, StepCheckTierLimits)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).
			Str("instance_id", instanceID).
			Msg("Failed to count provisioning attempts from event journal")
		return 0
	}
	return attempts
}
