// Package fleet 提供控制面服务器的主入口和初始化逻辑
package fleet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jimmicro/grace"
	"github.com/jimyag/fleet/internal/fleet/api"
	"github.com/jimyag/fleet/internal/fleet/config"
	"github.com/jimyag/fleet/internal/fleet/repository"
	"github.com/jimyag/fleet/internal/fleet/service"
	"github.com/jimyag/fleet/pkg/alert"
	"github.com/jimyag/fleet/pkg/container"
	"github.com/jimyag/fleet/pkg/dbadmin"
	"github.com/jimyag/fleet/pkg/dns"
	"github.com/jimyag/fleet/pkg/healthcheck"
	"github.com/jimyag/fleet/pkg/mediarelay"
	"github.com/jimyag/fleet/pkg/objstore"
	"github.com/jimyag/fleet/pkg/proxy"
	"github.com/jimyag/fleet/pkg/secrets"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

type Server struct {
	cfg  *config.Config
	repo *repository.Repository

	api          *api.API
	orchestrator *service.ProvisioningOrchestrator
	monitor      *service.HealthMonitor
	reconciler   *service.Reconciler
}

func New(cfg *config.Config) (*Server, error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger

	// 1. 数据库
	repo, err := repository.New(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	instanceRepo := repository.NewInstanceRepository(repo.DB())
	infraRepo := repository.NewInfrastructureRepository(repo.DB())
	healthRepo := repository.NewHealthRepository(repo.DB())
	eventRepo := repository.NewEventRepository(repo.DB())
	identityRepo := repository.NewWorkerIdentityRepository(repo.DB())
	queueRepo := repository.NewQueueRepository(repo.DB())
	billingRepo := repository.NewBillingRepository(repo.DB())
	configRepo := repository.NewConfigRepository(repo.DB())

	// 2. 字段级加密
	cipher, err := secrets.NewCipherFromHex(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	// 3. 外部协作方客户端
	runtime, err := container.New(cfg.RuntimeEndpoint)
	if err != nil {
		return nil, fmt.Errorf("create container runtime client: %w", err)
	}
	proxyManager, err := proxy.New(cfg.ProxyEndpoint, cfg.ProxyToken)
	if err != nil {
		return nil, fmt.Errorf("create proxy client: %w", err)
	}
	dnsProvider, err := dns.New(cfg.DNSEndpoint, cfg.DNSToken)
	if err != nil {
		return nil, fmt.Errorf("create DNS client: %w", err)
	}
	store, err := objstore.NewS3Client(cfg.S3Endpoint, cfg.S3Region, cfg.S3AccessKey, cfg.S3SecretKey)
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	relay, err := mediarelay.New(cfg.RelaySecret, 0)
	if err != nil {
		return nil, fmt.Errorf("create media relay service: %w", err)
	}
	notifier, err := alert.NewWebhookNotifier(cfg.AlertWebhookURL)
	if err != nil {
		return nil, fmt.Errorf("create alert notifier: %w", err)
	}

	// 共享数据库服务器的管理连接，DSN 未配置时退化为数据目录下
	// 的本地库（开发环境）
	adminDSN := cfg.DBAdminDSN
	if adminDSN == "" {
		adminDSN = filepath.Join(cfg.DataDir, "dbadmin.db")
	}
	adminRepo, err := repository.New(adminDSN)
	if err != nil {
		return nil, fmt.Errorf("open admin database connection: %w", err)
	}
	dbAdmin, err := dbadmin.New(adminRepo.DB())
	if err != nil {
		return nil, fmt.Errorf("create database provisioner: %w", err)
	}

	// 4. 套餐限额
	limits := service.DefaultTierLimits()
	if cfg.TierLimitsFile != "" {
		limits, err = service.LoadTierLimits(cfg.TierLimitsFile)
		if err != nil {
			return nil, fmt.Errorf("load tier limits: %w", err)
		}
	}

	// 5. worker identity 池
	allocator := service.NewWorkerIdentityAllocator(identityRepo, cfg.IdentityPoolSize)
	if err := allocator.Init(context.Background()); err != nil {
		return nil, fmt.Errorf("initialize worker identity pool: %w", err)
	}

	// 6. 指标
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	service.RegisterMetrics(registry)

	// 7. 流水线和后台循环
	pipeline := service.NewProvisioningPipeline(
		instanceRepo, infraRepo, eventRepo, billingRepo, allocator,
		runtime, dbAdmin, store, proxyManager, dnsProvider, relay, cipher,
		limits,
		service.PipelineConfig{
			Image:     cfg.InstanceImage,
			AppPort:   cfg.InstancePort,
			IngressIP: cfg.IngressIP,
			DBHost:    cfg.DBHost,
			DBPort:    cfg.DBPort,
		},
	)
	destroyer := service.NewDestructionPipeline(
		instanceRepo, infraRepo, eventRepo, healthRepo, billingRepo, configRepo, allocator,
		runtime, dbAdmin, store, proxyManager, dnsProvider, relay,
	)

	orchestrator := service.NewProvisioningOrchestrator(queueRepo, pipeline, cfg.PollInterval)
	prober := healthcheck.NewHTTPProber(10 * time.Second)
	monitor := service.NewHealthMonitor(
		instanceRepo, infraRepo, healthRepo,
		runtime, proxyManager, prober, notifier,
		cfg.MonitorInterval,
	)
	reconciler := service.NewReconciler(
		instanceRepo, infraRepo, queueRepo, eventRepo,
		runtime, proxyManager, prober,
		cfg.ReconcileInterval,
	)

	// 8. 实例服务和 API
	instanceService := service.NewInstanceService(
		instanceRepo, healthRepo, eventRepo, billingRepo, queueRepo,
		destroyer, limits,
	)
	apiInstance, err := api.New(cfg.Address, instanceService, registry)
	if err != nil {
		return nil, fmt.Errorf("create API: %w", err)
	}

	return &Server{
		cfg:          cfg,
		repo:         repo,
		api:          apiInstance,
		orchestrator: orchestrator,
		monitor:      monitor,
		reconciler:   reconciler,
	}, nil
}

func (s *Server) Run(ctx context.Context) error {
	// 使用 grace.Shepherd 管理服务生命周期
	services := []grace.Grace{
		s.api,
		s.orchestrator,
		s.monitor,
		s.reconciler,
	}

	shepherd := grace.NewShepherd(
		services,
		grace.WithTimeout(30*time.Second),
		grace.WithLogger(&zerologLogger{}),
	)

	shepherd.Start(ctx)
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.api.Shutdown(ctx); err != nil {
		return err
	}
	return s.repo.Close()
}

// Name 实现 grace.Grace 接口
func (s *Server) Name() string {
	return "Fleet Server"
}

// zerologLogger 实现 grace.Logger 接口
type zerologLogger struct{}

func (l *zerologLogger) Info(msg string, args ...interface{}) {
	logger := zerolog.DefaultContextLogger.Info()
	if len(args) > 0 {
		logger.Msgf(msg, args...)
	} else {
		logger.Msg(msg)
	}
}

func (l *zerologLogger) Error(msg string, args ...interface{}) {
	logger := zerolog.DefaultContextLogger.Error()
	if len(args) > 0 {
		logger.Msgf(msg, args...)
	} else {
		logger.Msg(msg)
	}
}
