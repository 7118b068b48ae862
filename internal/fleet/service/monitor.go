package service

import (
	"context"
	"time"

	"github.com/jimyag/fleet/internal/fleet/repository"
	"github.com/jimyag/fleet/internal/fleet/repository/model"
	"github.com/jimyag/fleet/pkg/alert"
	"github.com/jimyag/fleet/pkg/container"
	"github.com/jimyag/fleet/pkg/healthcheck"
	"github.com/jimyag/fleet/pkg/proxy"
	"github.com/rs/zerolog"
)

// 健康阈值
// 重启和告警都只在恰好越过阈值的那一次触发，不会在后续的
// 每次失败上重复触发
const (
	// RestartThreshold 连续失败达到该值时重启容器
	RestartThreshold = 3
	// AlertThreshold 连续失败达到该值时向运维告警
	AlertThreshold = 5
)

// HealthMonitor 健康监控循环
// 周期性对所有 running 实例做三级有序检查，首个失败即短路：
// 容器在跑 -> 路由有效 -> 应用健康端点正常
type HealthMonitor struct {
	instanceRepo repository.InstanceRepository
	infraRepo    repository.InfrastructureRepository
	healthRepo   repository.HealthRepository

	runtime  container.Runtime
	proxy    proxy.Manager
	prober   healthcheck.Prober
	notifier alert.Notifier

	interval   time.Duration
	startDelay time.Duration
	// restartWait 重启后给运行时的恢复时间
	restartWait time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewHealthMonitor 创建健康监控循环
func NewHealthMonitor(
	instanceRepo repository.InstanceRepository,
	infraRepo repository.InfrastructureRepository,
	healthRepo repository.HealthRepository,
	runtime container.Runtime,
	proxyManager proxy.Manager,
	prober healthcheck.Prober,
	notifier alert.Notifier,
	interval time.Duration,
) *HealthMonitor {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &HealthMonitor{
		instanceRepo: instanceRepo,
		infraRepo:    infraRepo,
		healthRepo:   healthRepo,
		runtime:      runtime,
		proxy:        proxyManager,
		prober:       prober,
		notifier:     notifier,
		interval:     interval,
		startDelay:   10 * time.Second,
		restartWait:  3 * time.Second,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Run 实现 grace.Grace 接口
func (m *HealthMonitor) Run(ctx context.Context) error {
	defer close(m.done)
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Dur("interval", m.interval).
		Msg("Health monitor started")

	// 启动缓冲：给刚置备完的实例一点起动时间
	select {
	case <-ctx.Done():
		logger.Info().Msg("Health monitor stopped")
		return nil
	case <-m.stop:
		logger.Info().Msg("Health monitor stopped")
		return nil
	case <-time.After(m.startDelay):
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Health monitor stopped")
			return nil
		case <-m.stop:
			logger.Info().Msg("Health monitor stopped")
			return nil
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

// Shutdown 实现 grace.Grace 接口
func (m *HealthMonitor) Shutdown(ctx context.Context) error {
	close(m.stop)
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Name 实现 grace.Grace 接口
func (m *HealthMonitor) Name() string {
	return "Health Monitor"
}

// checkAll 对所有 running 实例做一轮检查
// 单个实例的异常不会中断其余实例的检查
func (m *HealthMonitor) checkAll(ctx context.Context) {
	logger := zerolog.Ctx(ctx)

	instances, err := m.instanceRepo.ListByStatus(ctx, model.StatusRunning)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list running instances for health check")
		return
	}

	for _, instance := range instances {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		default:
		}
		m.CheckInstance(ctx, instance)
	}
}

// CheckInstance 对单个实例执行一次健康检查并按阈值补救
func (m *HealthMonitor) CheckInstance(ctx context.Context, instance *model.Instance) {
	logger := zerolog.Ctx(ctx)

	health, err := m.healthRepo.EnsureExists(ctx, instance.ID)
	if err != nil {
		logger.Error().Err(err).
			Str("instance_id", instance.ID).
			Msg("Failed to load health record")
		return
	}

	result := m.probe(ctx, instance)

	now := time.Now()
	health.LastCheckedAt = &now
	health.LastResponseMs = result.ResponseTimeMs

	if result.Healthy {
		wasUnhealthy := health.ConsecutiveFailures > 0
		health.IsHealthy = true
		health.ConsecutiveFailures = 0
		health.LastError = ""
		healthCheckTotal.WithLabelValues("success").Inc()

		if wasUnhealthy {
			logger.Info().
				Str("instance_id", instance.ID).
				Str("domain", instance.Domain).
				Msg("Instance recovered, failure count reset")
		}
	} else {
		health.IsHealthy = false
		health.ConsecutiveFailures++
		health.LastError = result.ErrorMessage
		healthCheckTotal.WithLabelValues("failure").Inc()

		logger.Warn().
			Str("instance_id", instance.ID).
			Str("domain", instance.Domain).
			Int("consecutive_failures", health.ConsecutiveFailures).
			Str("error", result.ErrorMessage).
			Msg("Instance health check failed")
	}

	if err := m.healthRepo.Update(ctx, health); err != nil {
		logger.Error().Err(err).
			Str("instance_id", instance.ID).
			Msg("Failed to update health record")
		return
	}

	if !result.Healthy {
		m.remediate(ctx, instance, health)
	}
}

// probe 三级有序检查，首个失败即返回
func (m *HealthMonitor) probe(ctx context.Context, instance *model.Instance) *healthcheck.Result {
	infra, err := m.infraRepo.GetByInstanceID(ctx, instance.ID)
	if err != nil {
		return &healthcheck.Result{ErrorMessage: "infrastructure record missing: " + err.Error()}
	}

	// 1. 容器还在跑
	running, err := m.runtime.ContainerRunning(ctx, infra.ContainerID)
	if err != nil {
		return &healthcheck.Result{ErrorMessage: "container check failed: " + err.Error()}
	}
	if !running {
		return &healthcheck.Result{ErrorMessage: "container is not running"}
	}

	// 2. 代理路由仍然有效
	if infra.RouteID != "" {
		ok, err := m.proxy.VerifyRoute(ctx, infra.RouteID)
		if err != nil {
			return &healthcheck.Result{ErrorMessage: "route check failed: " + err.Error()}
		}
		if !ok {
			return &healthcheck.Result{ErrorMessage: "proxy route is missing"}
		}
	}

	// 3. 应用健康端点
	return m.prober.VerifyInstanceHealth(ctx, instance.Domain)
}

// remediate 按阈值补救
// 恰好越过重启阈值时重启一次容器；恰好越过告警阈值时告警一次
func (m *HealthMonitor) remediate(ctx context.Context, instance *model.Instance, health *model.Health) {
	logger := zerolog.Ctx(ctx)

	switch health.ConsecutiveFailures {
	case RestartThreshold:
		logger.Warn().
			Str("instance_id", instance.ID).
			Int("consecutive_failures", health.ConsecutiveFailures).
			Msg("Restart threshold reached, restarting container")
		m.restartContainer(ctx, instance)
	case AlertThreshold:
		logger.Error().
			Str("instance_id", instance.ID).
			Int("consecutive_failures", health.ConsecutiveFailures).
			Msg("Alert threshold reached, dispatching operator alert")
		if err := m.notifier.SendInstanceHealthAlert(ctx, instance.ID, instance.Domain, health.ConsecutiveFailures, health.LastError); err != nil {
			// 告警是 fire-and-forget，投递失败只记日志
			logger.Error().Err(err).
				Str("instance_id", instance.ID).
				Msg("Failed to dispatch health alert")
		} else {
			alertsDispatchedTotal.Inc()
		}
	}
}

// restartContainer 停止容器，依靠运行时的重启策略把它拉起来
func (m *HealthMonitor) restartContainer(ctx context.Context, instance *model.Instance) {
	logger := zerolog.Ctx(ctx)

	infra, err := m.infraRepo.GetByInstanceID(ctx, instance.ID)
	if err != nil {
		logger.Error().Err(err).
			Str("instance_id", instance.ID).
			Msg("Failed to load infrastructure record for restart")
		return
	}
	if infra.ContainerID == "" {
		return
	}

	if err := m.runtime.StopContainer(ctx, infra.ContainerID); err != nil {
		logger.Error().Err(err).
			Str("instance_id", instance.ID).
			Str("container_id", infra.ContainerID).
			Msg("Failed to stop container for restart")
		return
	}
	instanceRestartsTotal.Inc()

	// 给运行时一点时间把容器拉起来再继续监控
	select {
	case <-ctx.Done():
	case <-time.After(m.restartWait):
	}
}
