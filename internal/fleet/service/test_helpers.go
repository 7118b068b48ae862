package service

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/jimyag/fleet/internal/fleet/repository"
	"github.com/jimyag/fleet/internal/fleet/repository/model"
	"github.com/jimyag/fleet/pkg/alert"
	"github.com/jimyag/fleet/pkg/container"
	"github.com/jimyag/fleet/pkg/dbadmin"
	"github.com/jimyag/fleet/pkg/dns"
	"github.com/jimyag/fleet/pkg/healthcheck"
	"github.com/jimyag/fleet/pkg/mediarelay"
	"github.com/jimyag/fleet/pkg/objstore"
	"github.com/jimyag/fleet/pkg/proxy"
	"github.com/jimyag/fleet/pkg/secrets"
	"github.com/stretchr/testify/require"
)

// TestServices 包含测试所需的所有服务和依赖
type TestServices struct {
	Repo *repository.Repository

	InstanceRepo repository.InstanceRepository
	InfraRepo    repository.InfrastructureRepository
	HealthRepo   repository.HealthRepository
	EventRepo    repository.EventRepository
	IdentityRepo repository.WorkerIdentityRepository
	QueueRepo    repository.QueueRepository
	BillingRepo  repository.BillingRepository
	ConfigRepo   repository.ConfigRepository

	MockRuntime  *container.MockRuntime
	MockDBAdmin  *dbadmin.MockProvisioner
	MockStore    *objstore.MockProvisioner
	MockProxy    *proxy.MockManager
	MockDNS      *dns.MockProvider
	MockRelay    *mediarelay.MockCredentialService
	MockProber   *healthcheck.MockProber
	MockNotifier *alert.MockNotifier

	Cipher    secrets.Cipher
	Allocator *WorkerIdentityAllocator
	Pipeline  *ProvisioningPipeline
	Destroyer *DestructionPipeline
}

// setupTestServices 为每个测试用例创建独立的测试环境
// 每个测试用例都会获得自己的数据库和 mock clients
func setupTestServices(t *testing.T) *TestServices {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	repo, err := repository.New(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = repo.Close()
	})

	key := make([]byte, secrets.KeySize)
	cipher, err := secrets.NewCipherFromHex(hex.EncodeToString(key))
	require.NoError(t, err)

	ts := &TestServices{
		Repo:         repo,
		InstanceRepo: repository.NewInstanceRepository(repo.DB()),
		InfraRepo:    repository.NewInfrastructureRepository(repo.DB()),
		HealthRepo:   repository.NewHealthRepository(repo.DB()),
		EventRepo:    repository.NewEventRepository(repo.DB()),
		IdentityRepo: repository.NewWorkerIdentityRepository(repo.DB()),
		QueueRepo:    repository.NewQueueRepository(repo.DB()),
		BillingRepo:  repository.NewBillingRepository(repo.DB()),
		ConfigRepo:   repository.NewConfigRepository(repo.DB()),
		MockRuntime:  container.NewMockRuntime(),
		MockDBAdmin:  dbadmin.NewMockProvisioner(),
		MockStore:    objstore.NewMockProvisioner(),
		MockProxy:    proxy.NewMockManager(),
		MockDNS:      dns.NewMockProvider(),
		MockRelay:    mediarelay.NewMockCredentialService(),
		MockProber:   healthcheck.NewMockProber(),
		MockNotifier: alert.NewMockNotifier(),
		Cipher:       cipher,
	}

	ts.Allocator = NewWorkerIdentityAllocator(ts.IdentityRepo, 16)
	require.NoError(t, ts.Allocator.Init(context.Background()))

	ts.Pipeline = NewProvisioningPipeline(
		ts.InstanceRepo, ts.InfraRepo, ts.EventRepo, ts.BillingRepo, ts.Allocator,
		ts.MockRuntime, ts.MockDBAdmin, ts.MockStore, ts.MockProxy, ts.MockDNS, ts.MockRelay, cipher,
		DefaultTierLimits(),
		PipelineConfig{
			Image:     "fleet/instance:test",
			AppPort:   3000,
			IngressIP: "203.0.113.10",
			DBHost:    "db.internal",
			DBPort:    5432,
		},
	)
	ts.Destroyer = NewDestructionPipeline(
		ts.InstanceRepo, ts.InfraRepo, ts.EventRepo, ts.HealthRepo, ts.BillingRepo, ts.ConfigRepo, ts.Allocator,
		ts.MockRuntime, ts.MockDBAdmin, ts.MockStore, ts.MockProxy, ts.MockDNS, ts.MockRelay,
	)
	return ts
}

// newPendingInstance 构造一个待插入的 pending 实例
func newPendingInstance(id, tenantID, domain string) *model.Instance {
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

// createTestInstance 落库一个实例和它的计费记录
func (ts *TestServices) createTestInstance(t *testing.T, id, tenantID, domain, status string) *model.Instance {
	t.Helper()

	now := time.Now()
	instance := &model.Instance{
		ID:        id,
		TenantID:  tenantID,
		Domain:    domain,
		Name:      domain,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, ts.InstanceRepo.Create(context.Background(), instance))

	billing := &model.Billing{
		InstanceID: id,
		Tier:       "standard",
		Status:     "active",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, ts.BillingRepo.Create(context.Background(), billing))
	return instance
}

// createTestInfra 落库一个完整的基础设施记录
func (ts *TestServices) createTestInfra(t *testing.T, instanceID string) *model.Infrastructure {
	t.Helper()

	infra := &model.Infrastructure{
		InstanceID:  instanceID,
		NetworkID:   "net-" + instanceID,
		ContainerID: "ctr-" + instanceID,
		RouteID:     "rt-" + instanceID,
		DBName:      databaseIdent(instanceID),
		DBUser:      databaseIdent(instanceID),
	}
	require.NoError(t, ts.InfraRepo.Create(context.Background(), infra))
	return infra
}
