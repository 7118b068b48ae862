package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// 置备指标
	provisionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleet",
			Subsystem: "provisioner",
			Name:      "runs_total",
			Help:      "Total number of provisioning pipeline runs by result",
		},
		[]string{"result"},
	)

	provisionStepFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleet",
			Subsystem: "provisioner",
			Name:      "step_failures_total",
			Help:      "Total number of failed provisioning steps by step name",
		},
		[]string{"step"},
	)

	// 健康检查指标
	healthCheckTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleet",
			Subsystem: "monitor",
			Name:      "health_checks_total",
			Help:      "Total number of instance health checks by result",
		},
		[]string{"result"},
	)

	instanceRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleet",
			Subsystem: "monitor",
			Name:      "instance_restarts_total",
			Help:      "Total number of container restarts triggered by the health monitor",
		},
	)

	alertsDispatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleet",
			Subsystem: "monitor",
			Name:      "alerts_dispatched_total",
			Help:      "Total number of operator alerts dispatched",
		},
	)

	// 对账指标
	reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleet",
			Subsystem: "reconciler",
			Name:      "passes_total",
			Help:      "Total number of reconciliation passes by result",
		},
		[]string{"pass", "result"},
	)

	instancesFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleet",
			Subsystem: "reconciler",
			Name:      "instances_failed_total",
			Help:      "Total number of instances transitioned to failed by reason",
		},
		[]string{"reason"},
	)

	stuckRequeuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleet",
			Subsystem: "reconciler",
			Name:      "stuck_requeued_total",
			Help:      "Total number of stuck provisioning instances re-enqueued",
		},
	)

	// 分配器指标
	identityPoolInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fleet",
			Subsystem: "allocator",
			Name:      "identities_in_use",
			Help:      "Number of worker identities currently bound to instances",
		},
	)
)

// RegisterMetrics 将服务层指标注册到 registry
// 重复注册（例如测试里多次初始化）被忽略
func RegisterMetrics(reg prometheus.Registerer) {
	collectors := []prometheus.Collector{
		provisionTotal,
		provisionStepFailures,
		healthCheckTotal,
		instanceRestartsTotal,
		alertsDispatchedTotal,
		reconcileTotal,
		instancesFailedTotal,
		stuckRequeuedTotal,
		identityPoolInUse,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}
