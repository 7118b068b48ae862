package service

import (
	"context"
	"time"

	"github.com/jimyag/fleet/internal/fleet/repository"
	"github.com/rs/zerolog"
)

// provisionRunner 编排器驱动的流水线契约，便于测试注入
type provisionRunner interface {
	Run(ctx context.Context, instanceID string) error
}

// ProvisioningOrchestrator 置备编排器
// 从持久化队列取实例并驱动置备流水线。流水线失败不在这里重试，
// 重试是 Reconciler 通过卡死检测重新入队完成的
type ProvisioningOrchestrator struct {
	queueRepo    repository.QueueRepository
	pipeline     provisionRunner
	pollInterval time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewProvisioningOrchestrator 创建置备编排器
func NewProvisioningOrchestrator(queueRepo repository.QueueRepository, pipeline provisionRunner, pollInterval time.Duration) *ProvisioningOrchestrator {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &ProvisioningOrchestrator{
		queueRepo:    queueRepo,
		pipeline:     pipeline,
		pollInterval: pollInterval,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Run 实现 grace.Grace 接口
// 先做启动恢复（上次进程退出时还没处理完的队列记录），
// 再进入稳态的出队循环
func (o *ProvisioningOrchestrator) Run(ctx context.Context) error {
	defer close(o.done)
	logger := zerolog.Ctx(ctx)
	logger.Info().Msg("Provisioning orchestrator started")

	o.recover(ctx)

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Provisioning orchestrator stopped")
			return nil
		case <-o.stop:
			logger.Info().Msg("Provisioning orchestrator stopped")
			return nil
		case <-ticker.C:
			o.drain(ctx)
		}
	}
}

// Shutdown 实现 grace.Grace 接口
// 等待在途的流水线步骤自然结束，不强行打断
func (o *ProvisioningOrchestrator) Shutdown(ctx context.Context) error {
	close(o.stop)
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Name 实现 grace.Grace 接口
func (o *ProvisioningOrchestrator) Name() string {
	return "Provisioning Orchestrator"
}

// recover 启动恢复：重放队列里所有未出队的实例
// 已经置备完成的实例会被流水线按状态跳过
func (o *ProvisioningOrchestrator) recover(ctx context.Context) {
	logger := zerolog.Ctx(ctx)

	pending, err := o.queueRepo.ListPending(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list pending queue items on startup")
		return
	}
	if len(pending) == 0 {
		return
	}

	logger.Info().
		Int("count", len(pending)).
		Msg("Recovering pending instances from previous run")
	for _, instanceID := range pending {
		select {
		case <-ctx.Done():
			return
		case <-o.stop:
			return
		default:
		}
		o.process(ctx, instanceID)
	}
}

// drain 把队列里当前积压的实例全部处理完
func (o *ProvisioningOrchestrator) drain(ctx context.Context) {
	logger := zerolog.Ctx(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stop:
			return
		default:
		}

		instanceID, err := o.queueRepo.Dequeue(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to dequeue instance")
			return
		}
		if instanceID == "" {
			return
		}
		o.process(ctx, instanceID)
	}
}

// process 驱动一个实例的置备流水线
// 单个实例的 panic 被捕获，不能拖垮整个循环
func (o *ProvisioningOrchestrator) process(ctx context.Context, instanceID string) {
	logger := zerolog.Ctx(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("instance_id", instanceID).
				Interface("panic", r).
				Msg("Panic while provisioning instance, continuing with next")
		}
	}()

	if err := o.pipeline.Run(ctx, instanceID); err != nil {
		// 实例停留在非 running 状态，错误已记入事件日志
		logger.Error().Err(err).
			Str("instance_id", instanceID).
			Msg("Provisioning pipeline failed")
		return
	}
}
