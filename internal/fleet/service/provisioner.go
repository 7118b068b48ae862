package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jimyag/fleet/internal/fleet/repository"
	"github.com/jimyag/fleet/internal/fleet/repository/model"
	"github.com/jimyag/fleet/pkg/apierror"
	"github.com/jimyag/fleet/pkg/container"
	"github.com/jimyag/fleet/pkg/dbadmin"
	"github.com/jimyag/fleet/pkg/dns"
	"github.com/jimyag/fleet/pkg/idgen"
	"github.com/jimyag/fleet/pkg/mediarelay"
	"github.com/jimyag/fleet/pkg/objstore"
	"github.com/jimyag/fleet/pkg/proxy"
	"github.com/jimyag/fleet/pkg/secrets"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ProvisionStep 置备流水线的一个步骤
// Execute 必须可安全重入（create-if-not-exists 语义）；
// Verify 用于断点恢复：事件日志记录成功的步骤先做校验，
// 资源还在就跳过，丢了就重新执行
type ProvisionStep interface {
	Name() string
	Execute(ctx context.Context, pctx *provisionContext) error
	Verify(ctx context.Context, pctx *provisionContext) (bool, error)
}

// provisionContext 单次流水线执行的共享状态
// 明文凭证只在这里短暂存在，落库前由 Cipher 加密
type provisionContext struct {
	instance *model.Instance
	infra    *model.Infrastructure

	dbPassword     string
	storageSecret  string
	relaySecret    string
	bootstrapToken string
}

// PipelineConfig 置备流水线的环境参数
type PipelineConfig struct {
	Image     string // 实例容器镜像
	AppPort   int    // 容器内应用端口
	IngressIP string // 对外入口 IP，DNS A 记录指向它
	DBHost    string // 共享数据库服务器地址
	DBPort    int
}

// ProvisioningPipeline 置备流水线
// 按声明顺序执行步骤，任一步骤失败立即中止（fail-fast）：
// 半置备的实例不能对外服务。失败后实例停留在 provisioning，
// 由 Reconciler 的卡死检测重新入队
type ProvisioningPipeline struct {
	instanceRepo repository.InstanceRepository
	infraRepo    repository.InfrastructureRepository
	eventRepo    repository.EventRepository
	billingRepo  repository.BillingRepository
	allocator    *WorkerIdentityAllocator

	runtime container.Runtime
	dbAdmin dbadmin.Provisioner
	store   objstore.Provisioner
	proxy   proxy.Manager
	dns     dns.Provider
	relay   mediarelay.CredentialService
	cipher  secrets.Cipher

	limits *TierLimits
	idGen  *idgen.Generator
	cfg    PipelineConfig

	steps []ProvisionStep
}

// NewProvisioningPipeline 创建置备流水线
// 步骤顺序在这里固定配置，运行期不会变化
func NewProvisioningPipeline(
	instanceRepo repository.InstanceRepository,
	infraRepo repository.InfrastructureRepository,
	eventRepo repository.EventRepository,
	billingRepo repository.BillingRepository,
	allocator *WorkerIdentityAllocator,
	runtime container.Runtime,
	dbAdmin dbadmin.Provisioner,
	store objstore.Provisioner,
	proxyManager proxy.Manager,
	dnsProvider dns.Provider,
	relay mediarelay.CredentialService,
	cipher secrets.Cipher,
	limits *TierLimits,
	cfg PipelineConfig,
) *ProvisioningPipeline {
	p := &ProvisioningPipeline{
		instanceRepo: instanceRepo,
		infraRepo:    infraRepo,
		eventRepo:    eventRepo,
		billingRepo:  billingRepo,
		allocator:    allocator,
		runtime:      runtime,
		dbAdmin:      dbAdmin,
		store:        store,
		proxy:        proxyManager,
		dns:          dnsProvider,
		relay:        relay,
		cipher:       cipher,
		limits:       limits,
		idGen:        idgen.DefaultGenerator(),
		cfg:          cfg,
	}
	p.steps = []ProvisionStep{
		&checkTierLimitsStep{p: p},
		&allocateWorkerIdentityStep{p: p},
		&createNetworkStep{p: p},
		&createContainerStep{p: p},
		&createDatabaseStep{p: p},
		&createBucketStep{p: p},
		&createProxyRouteStep{p: p},
		&createDNSRecordStep{p: p},
		&issueRelayCredentialsStep{p: p},
		&persistSecretsStep{p: p},
	}
	return p
}

// Run 为一个实例执行置备流水线
// 成功后实例转为 running；失败时实例停留在非 running 状态，
// 错误记录在事件日志里，重试交给 Reconciler
func (p *ProvisioningPipeline) Run(ctx context.Context, instanceID string) error {
	logger := zerolog.Ctx(ctx)

	instance, err := p.instanceRepo.GetByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apierror.WrapError(apierror.ErrResourceNotFound, "Instance does not exist", err)
		}
		return apierror.WrapError(apierror.ErrInternalError, "Failed to load instance", err)
	}

	switch instance.Status {
	case model.StatusPending, model.StatusProvisioning:
		// 继续
	default:
		// 队列里的重复记录或启动恢复时的重放，不是错误
		logger.Info().
			Str("instance_id", instanceID).
			Str("status", instance.Status).
			Msg("Instance not in a provisionable status, skipping")
		return nil
	}

	if instance.Status == model.StatusPending {
		instance.Status = model.StatusProvisioning
		if err := p.instanceRepo.UpdateWithVersion(ctx, instance); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				return apierror.WrapError(apierror.ErrConcurrencyConflict, "Instance was updated by another writer", err)
			}
			return apierror.WrapError(apierror.ErrInternalError, "Failed to mark instance provisioning", err)
		}
	}

	// 断点恢复：事件日志告诉我们哪些步骤已经成功过
	succeeded, err := p.eventRepo.SucceededSteps(ctx, instanceID, model.PhaseProvision)
	if err != nil {
		return apierror.WrapError(apierror.ErrInternalError, "Failed to load provisioning events", err)
	}

	pctx, err := p.newContext(ctx, instance)
	if err != nil {
		return err
	}

	logger.Info().
		Str("instance_id", instanceID).
		Str("domain", instance.Domain).
		Int("completed_steps", len(succeeded)).
		Msg("Provisioning pipeline started")

	for _, step := range p.steps {
		if succeeded[step.Name()] {
			ok, verr := step.Verify(ctx, pctx)
			if verr == nil && ok {
				logger.Debug().
					Str("instance_id", instanceID).
					Str("step", step.Name()).
					Msg("Step already completed, verified")
				continue
			}
			logger.Warn().
				Str("instance_id", instanceID).
				Str("step", step.Name()).
				AnErr("verify_error", verr).
				Msg("Previously completed step failed verification, re-executing")
		}

		if err := p.runStep(ctx, pctx, step); err != nil {
			provisionTotal.WithLabelValues("failure").Inc()
			return err
		}
	}

	instance.Status = model.StatusRunning
	if err := p.instanceRepo.UpdateWithVersion(ctx, instance); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return apierror.WrapError(apierror.ErrConcurrencyConflict, "Instance was updated by another writer", err)
		}
		return apierror.WrapError(apierror.ErrInternalError, "Failed to mark instance running", err)
	}

	provisionTotal.WithLabelValues("success").Inc()
	logger.Info().
		Str("instance_id", instanceID).
		Str("domain", instance.Domain).
		Msg("Provisioning pipeline completed, instance running")
	return nil
}

// runStep 执行单个步骤并记录前后事件
func (p *ProvisioningPipeline) runStep(ctx context.Context, pctx *provisionContext, step ProvisionStep) error {
	logger := zerolog.Ctx(ctx)

	eventID, err := p.idGen.GenerateEventID()
	if err != nil {
		return apierror.WrapError(apierror.ErrInternalError, "Failed to generate event ID", err)
	}
	event := &model.ProvisioningEvent{
		ID:         eventID,
		InstanceID: pctx.instance.ID,
		Phase:      model.PhaseProvision,
		Step:       step.Name(),
		Status:     model.EventStarted,
	}
	if err := p.eventRepo.Append(ctx, event); err != nil {
		return apierror.WrapError(apierror.ErrInternalError, "Failed to record provisioning event", err)
	}

	execErr := step.Execute(ctx, pctx)
	if execErr != nil {
		event.Status = model.EventFailed
		event.Error = execErr.Error()
		if cerr := p.eventRepo.Complete(ctx, event); cerr != nil {
			logger.Error().Err(cerr).
				Str("instance_id", pctx.instance.ID).
				Str("step", step.Name()).
				Msg("Failed to record step failure event")
		}
		provisionStepFailures.WithLabelValues(step.Name()).Inc()
		logger.Error().Err(execErr).
			Str("instance_id", pctx.instance.ID).
			Str("step", step.Name()).
			Msg("Provisioning step failed, aborting pipeline")
		return apierror.WrapError(apierror.ErrProvisioningFailed,
			fmt.Sprintf("Provisioning step %s failed", step.Name()), execErr)
	}

	// 每个资源步骤成功后立即落一次句柄，崩溃后才找得回来
	if err := p.persist(ctx, pctx); err != nil {
		return err
	}

	event.Status = model.EventSucceeded
	if err := p.eventRepo.Complete(ctx, event); err != nil {
		return apierror.WrapError(apierror.ErrInternalError, "Failed to record provisioning event", err)
	}

	logger.Info().
		Str("instance_id", pctx.instance.ID).
		Str("step", step.Name()).
		Msg("Provisioning step succeeded")
	return nil
}

// newContext 构建流水线上下文
// 已有的基础设施记录被加载并解密，缺失的凭证稍后按需生成
func (p *ProvisioningPipeline) newContext(ctx context.Context, instance *model.Instance) (*provisionContext, error) {
	pctx := &provisionContext{instance: instance}

	infra, err := p.infraRepo.GetByInstanceID(ctx, instance.ID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to load infrastructure record", err)
		}
		pctx.infra = &model.Infrastructure{InstanceID: instance.ID}
		return pctx, nil
	}
	pctx.infra = infra

	// 断点恢复时把已持久化的凭证解密回上下文
	if infra.DBPasswordEnc != "" {
		if pctx.dbPassword, err = p.cipher.Decrypt(infra.DBPasswordEnc); err != nil {
			return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to decrypt database password", err)
		}
	}
	if infra.StorageSecretKeyEnc != "" {
		if pctx.storageSecret, err = p.cipher.Decrypt(infra.StorageSecretKeyEnc); err != nil {
			return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to decrypt storage secret key", err)
		}
	}
	if infra.RelaySecretEnc != "" {
		if pctx.relaySecret, err = p.cipher.Decrypt(infra.RelaySecretEnc); err != nil {
			return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to decrypt relay secret", err)
		}
	}
	return pctx, nil
}

// persist 把上下文里的明文凭证加密后连同资源句柄一起落库
func (p *ProvisioningPipeline) persist(ctx context.Context, pctx *provisionContext) error {
	var err error
	if pctx.dbPassword != "" {
		if pctx.infra.DBPasswordEnc, err = p.cipher.Encrypt(pctx.dbPassword); err != nil {
			return apierror.WrapError(apierror.ErrInternalError, "Failed to encrypt database password", err)
		}
	}
	if pctx.storageSecret != "" {
		if pctx.infra.StorageSecretKeyEnc, err = p.cipher.Encrypt(pctx.storageSecret); err != nil {
			return apierror.WrapError(apierror.ErrInternalError, "Failed to encrypt storage secret key", err)
		}
	}
	if pctx.relaySecret != "" {
		if pctx.infra.RelaySecretEnc, err = p.cipher.Encrypt(pctx.relaySecret); err != nil {
			return apierror.WrapError(apierror.ErrInternalError, "Failed to encrypt relay secret", err)
		}
	}

	if err := p.infraRepo.Upsert(ctx, pctx.infra); err != nil {
		return apierror.WrapError(apierror.ErrInternalError, "Failed to persist infrastructure record", err)
	}
	return nil
}

// ensureCredentials 为实例生成缺失的凭证
// 已存在的凭证（本次执行或之前的执行生成的）不会被轮换
func (p *ProvisioningPipeline) ensureCredentials(pctx *provisionContext) error {
	if pctx.infra.DBName == "" {
		pctx.infra.DBName = databaseIdent(pctx.instance.ID)
	}
	if pctx.infra.DBUser == "" {
		pctx.infra.DBUser = databaseIdent(pctx.instance.ID)
	}
	if pctx.dbPassword == "" {
		password, err := randomSecret()
		if err != nil {
			return fmt.Errorf("generate database password: %w", err)
		}
		pctx.dbPassword = password
	}
	if pctx.infra.StorageAccessKey == "" {
		pctx.infra.StorageAccessKey = "fleet-" + pctx.instance.ID
	}
	if pctx.storageSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return fmt.Errorf("generate storage secret key: %w", err)
		}
		pctx.storageSecret = secret
	}
	if pctx.infra.BootstrapTokenHash == "" {
		p.rotateBootstrapToken(pctx)
	}
	return nil
}

// rotateBootstrapToken 重新签发 bootstrap token 并更新哈希
// token 明文不落库，断点恢复后只剩哈希；重建容器时必须连哈希
// 一起换新，容器拿到的明文才对得上库里的哈希
func (p *ProvisioningPipeline) rotateBootstrapToken(pctx *provisionContext) {
	pctx.bootstrapToken = uuid.NewString()
	sum := sha256.Sum256([]byte(pctx.bootstrapToken))
	pctx.infra.BootstrapTokenHash = hex.EncodeToString(sum[:])
}

// databaseIdent 从实例 ID 派生数据库/账号名
// in-12345 -> fleet_in_12345，只含小写字母数字和下划线
func databaseIdent(instanceID string) string {
	return "fleet_" + strings.ReplaceAll(strings.ToLower(instanceID), "-", "_")
}

// randomSecret 生成十六进制编码的随机凭证
func randomSecret() (string, error) {
	key, err := secrets.GenerateKey()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// containerName 实例容器的运行时名称
func containerName(instanceID string) string {
	return "fleet-" + instanceID
}

// networkName 实例隔离网络的运行时名称
func networkName(instanceID string) string {
	return "fleet-net-" + instanceID
}
