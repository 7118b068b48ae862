package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jimyag/fleet/pkg/apierror"
	"github.com/jimyag/fleet/pkg/container"
	"github.com/jimyag/fleet/pkg/objstore"
	"github.com/jimyag/fleet/pkg/secrets"
	"gorm.io/gorm"
)

// 置备步骤名称，事件日志按名称记录成功/失败
const (
	StepCheckTierLimits        = "check_tier_limits"
	StepAllocateWorkerIdentity = "allocate_worker_identity"
	StepCreateNetwork          = "create_network"
	StepCreateContainer        = "create_container"
	StepCreateDatabase         = "create_database"
	StepCreateBucket           = "create_bucket"
	StepCreateProxyRoute       = "create_proxy_route"
	StepCreateDNSRecord        = "create_dns_record"
	StepIssueRelayCredentials  = "issue_relay_credentials"
	StepPersistSecrets         = "persist_secrets"
)

// checkTierLimitsStep 校验租户套餐限额
// 计费记录缺失时以 ResourceNotFound 中止本次置备
type checkTierLimitsStep struct {
	p *ProvisioningPipeline
}

func (s *checkTierLimitsStep) Name() string { return StepCheckTierLimits }

func (s *checkTierLimitsStep) Execute(ctx context.Context, pctx *provisionContext) error {
	billing, err := s.p.billingRepo.GetByInstanceID(ctx, pctx.instance.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apierror.WrapError(apierror.ErrResourceNotFound, "Billing record missing for instance", err)
		}
		return fmt.Errorf("load billing record: %w", err)
	}

	limit, ok := s.p.limits.Lookup(billing.Tier)
	if !ok {
		return apierror.WrapError(apierror.ErrInvalidParameter,
			fmt.Sprintf("Unknown billing tier %s", billing.Tier), nil)
	}

	count, err := s.p.instanceRepo.CountActiveByTenant(ctx, pctx.instance.TenantID)
	if err != nil {
		return fmt.Errorf("count tenant instances: %w", err)
	}
	// 当前实例已在计数内
	if count > int64(limit.MaxInstances) {
		return apierror.WrapError(apierror.ErrTierLimitExceeded,
			fmt.Sprintf("Tenant already has %d instances, tier %s allows %d", count, billing.Tier, limit.MaxInstances), nil)
	}
	return nil
}

func (s *checkTierLimitsStep) Verify(_ context.Context, _ *provisionContext) (bool, error) {
	// 纯校验步骤，没有外部资源可核对
	return true, nil
}

// allocateWorkerIdentityStep 为实例认领 worker identity
type allocateWorkerIdentityStep struct {
	p *ProvisioningPipeline
}

func (s *allocateWorkerIdentityStep) Name() string { return StepAllocateWorkerIdentity }

func (s *allocateWorkerIdentityStep) Execute(ctx context.Context, pctx *provisionContext) error {
	id, err := s.p.allocator.Allocate(ctx, pctx.instance.ID)
	if err != nil {
		return err
	}

	if pctx.instance.WorkerID != nil && *pctx.instance.WorkerID == id {
		return nil
	}
	pctx.instance.WorkerID = &id
	if err := s.p.instanceRepo.UpdateWithVersion(ctx, pctx.instance); err != nil {
		return fmt.Errorf("record worker identity on instance: %w", err)
	}
	return nil
}

func (s *allocateWorkerIdentityStep) Verify(ctx context.Context, pctx *provisionContext) (bool, error) {
	if pctx.instance.WorkerID == nil {
		return false, nil
	}
	binding, err := s.p.allocator.identityRepo.GetByInstanceID(ctx, pctx.instance.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return binding.ID == *pctx.instance.WorkerID, nil
}

// createNetworkStep 创建实例的隔离网络
type createNetworkStep struct {
	p *ProvisioningPipeline
}

func (s *createNetworkStep) Name() string { return StepCreateNetwork }

func (s *createNetworkStep) Execute(ctx context.Context, pctx *provisionContext) error {
	if pctx.infra.NetworkID != "" {
		exists, err := s.p.runtime.NetworkExists(ctx, pctx.infra.NetworkID)
		if err != nil {
			return fmt.Errorf("check network: %w", err)
		}
		if exists {
			return nil
		}
	}

	networkID, err := s.p.runtime.CreateNetwork(ctx, networkName(pctx.instance.ID))
	if err != nil {
		return fmt.Errorf("create network: %w", err)
	}
	pctx.infra.NetworkID = networkID
	return nil
}

func (s *createNetworkStep) Verify(ctx context.Context, pctx *provisionContext) (bool, error) {
	if pctx.infra.NetworkID == "" {
		return false, nil
	}
	return s.p.runtime.NetworkExists(ctx, pctx.infra.NetworkID)
}

// createContainerStep 创建实例容器
// 数据库凭证和 bootstrap token 通过环境变量注入，容器在数据库
// 就绪前自行等待重试
type createContainerStep struct {
	p *ProvisioningPipeline
}

func (s *createContainerStep) Name() string { return StepCreateContainer }

func (s *createContainerStep) Execute(ctx context.Context, pctx *provisionContext) error {
	if pctx.infra.ContainerID != "" {
		running, err := s.p.runtime.ContainerRunning(ctx, pctx.infra.ContainerID)
		if err != nil {
			return fmt.Errorf("check container: %w", err)
		}
		if running {
			return nil
		}
	}

	if err := s.p.ensureCredentials(pctx); err != nil {
		return err
	}
	// 哈希还在但明文没了，说明这是断点恢复后重建容器，
	// token 必须随容器一起换新
	if pctx.bootstrapToken == "" {
		s.p.rotateBootstrapToken(pctx)
	}
	if pctx.instance.WorkerID == nil {
		return fmt.Errorf("worker identity not allocated")
	}

	spec := &container.Spec{
		Name:      containerName(pctx.instance.ID),
		Image:     s.p.cfg.Image,
		NetworkID: pctx.infra.NetworkID,
		Env: map[string]string{
			"FLEET_INSTANCE_ID":     pctx.instance.ID,
			"FLEET_DOMAIN":          pctx.instance.Domain,
			"FLEET_WORKER_ID":       fmt.Sprintf("%d", *pctx.instance.WorkerID),
			"FLEET_DB_HOST":         s.p.cfg.DBHost,
			"FLEET_DB_PORT":         fmt.Sprintf("%d", s.p.cfg.DBPort),
			"FLEET_DB_NAME":         pctx.infra.DBName,
			"FLEET_DB_USER":         pctx.infra.DBUser,
			"FLEET_DB_PASSWORD":     pctx.dbPassword,
			"FLEET_BOOTSTRAP_TOKEN": pctx.bootstrapToken,
		},
		RestartPolicy: "unless-stopped",
	}

	containerID, err := s.p.runtime.CreateContainer(ctx, spec)
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	pctx.infra.ContainerID = containerID
	return nil
}

func (s *createContainerStep) Verify(ctx context.Context, pctx *provisionContext) (bool, error) {
	if pctx.infra.ContainerID == "" {
		return false, nil
	}
	return s.p.runtime.ContainerRunning(ctx, pctx.infra.ContainerID)
}

// createDatabaseStep 在共享数据库服务器上创建实例专属数据库和账号
type createDatabaseStep struct {
	p *ProvisioningPipeline
}

func (s *createDatabaseStep) Name() string { return StepCreateDatabase }

func (s *createDatabaseStep) Execute(ctx context.Context, pctx *provisionContext) error {
	if err := s.p.ensureCredentials(pctx); err != nil {
		return err
	}
	if err := s.p.dbAdmin.CreateDatabase(ctx, pctx.infra.DBName, pctx.infra.DBUser, pctx.dbPassword); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	return nil
}

func (s *createDatabaseStep) Verify(ctx context.Context, pctx *provisionContext) (bool, error) {
	if pctx.infra.DBName == "" {
		return false, nil
	}
	return s.p.dbAdmin.DatabaseExists(ctx, pctx.infra.DBName)
}

// createBucketStep 创建对象存储 bucket
// bucket 名称由域名确定性派生，销毁时无需查库
type createBucketStep struct {
	p *ProvisioningPipeline
}

func (s *createBucketStep) Name() string { return StepCreateBucket }

func (s *createBucketStep) Execute(ctx context.Context, pctx *provisionContext) error {
	if err := s.p.ensureCredentials(pctx); err != nil {
		return err
	}
	bucket := objstore.BucketName(pctx.instance.Domain)
	if err := s.p.store.ProvisionBucket(ctx, bucket, pctx.infra.StorageAccessKey); err != nil {
		return fmt.Errorf("provision bucket: %w", err)
	}
	return nil
}

func (s *createBucketStep) Verify(ctx context.Context, pctx *provisionContext) (bool, error) {
	return s.p.store.BucketExists(ctx, objstore.BucketName(pctx.instance.Domain))
}

// createProxyRouteStep 创建 domain -> 容器后端的反向代理路由
type createProxyRouteStep struct {
	p *ProvisioningPipeline
}

func (s *createProxyRouteStep) Name() string { return StepCreateProxyRoute }

func (s *createProxyRouteStep) Execute(ctx context.Context, pctx *provisionContext) error {
	if pctx.infra.RouteID != "" {
		ok, err := s.p.proxy.VerifyRoute(ctx, pctx.infra.RouteID)
		if err != nil {
			return fmt.Errorf("verify route: %w", err)
		}
		if ok {
			return nil
		}
	}

	backend := fmt.Sprintf("%s:%d", containerName(pctx.instance.ID), s.p.cfg.AppPort)
	routeID, err := s.p.proxy.CreateRoute(ctx, pctx.instance.Domain, backend)
	if err != nil {
		return fmt.Errorf("create route: %w", err)
	}
	pctx.infra.RouteID = routeID
	return nil
}

func (s *createProxyRouteStep) Verify(ctx context.Context, pctx *provisionContext) (bool, error) {
	if pctx.infra.RouteID == "" {
		return false, nil
	}
	return s.p.proxy.VerifyRoute(ctx, pctx.infra.RouteID)
}

// createDNSRecordStep 为实例域名创建 A 记录
type createDNSRecordStep struct {
	p *ProvisioningPipeline
}

func (s *createDNSRecordStep) Name() string { return StepCreateDNSRecord }

func (s *createDNSRecordStep) Execute(ctx context.Context, pctx *provisionContext) error {
	// 提供商按 upsert 语义处理已存在的记录
	if err := s.p.dns.CreateARecord(ctx, pctx.instance.Domain, s.p.cfg.IngressIP); err != nil {
		return fmt.Errorf("create DNS record: %w", err)
	}
	return nil
}

func (s *createDNSRecordStep) Verify(ctx context.Context, pctx *provisionContext) (bool, error) {
	return s.p.dns.ARecordExists(ctx, pctx.instance.Domain)
}

// issueRelayCredentialsStep 签发媒体中继凭证
type issueRelayCredentialsStep struct {
	p *ProvisioningPipeline
}

func (s *issueRelayCredentialsStep) Name() string { return StepIssueRelayCredentials }

func (s *issueRelayCredentialsStep) Execute(ctx context.Context, pctx *provisionContext) error {
	if pctx.infra.RelayAPIKey != "" && pctx.relaySecret != "" {
		return nil
	}

	creds, err := s.p.relay.IssueCredentials(ctx, pctx.instance.ID)
	if err != nil {
		return fmt.Errorf("issue relay credentials: %w", err)
	}
	pctx.infra.RelayAPIKey = creds.APIKey
	pctx.relaySecret = creds.Secret
	return nil
}

func (s *issueRelayCredentialsStep) Verify(_ context.Context, pctx *provisionContext) (bool, error) {
	return pctx.infra.RelayAPIKey != "" && pctx.infra.RelaySecretEnc != "", nil
}

// persistSecretsStep 确保加密凭证包完整落库
// 每实例 KEK 在这里生成；加密由流水线的 persist 统一完成
type persistSecretsStep struct {
	p *ProvisioningPipeline
}

func (s *persistSecretsStep) Name() string { return StepPersistSecrets }

func (s *persistSecretsStep) Execute(_ context.Context, pctx *provisionContext) error {
	if err := s.p.ensureCredentials(pctx); err != nil {
		return err
	}

	if pctx.infra.KEKEnc == "" {
		kek, err := secrets.GenerateKey()
		if err != nil {
			return fmt.Errorf("generate instance KEK: %w", err)
		}
		enc, err := s.p.cipher.Encrypt(hex.EncodeToString(kek))
		if err != nil {
			return fmt.Errorf("encrypt instance KEK: %w", err)
		}
		pctx.infra.KEKEnc = enc
	}
	return nil
}

func (s *persistSecretsStep) Verify(_ context.Context, pctx *provisionContext) (bool, error) {
	return pctx.infra.KEKEnc != "" &&
		pctx.infra.BootstrapTokenHash != "" &&
		pctx.infra.DBPasswordEnc != "" &&
		pctx.infra.StorageSecretKeyEnc != "", nil
}
