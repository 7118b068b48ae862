package service

import (
	"context"
	"errors"

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
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// 销毁步骤名称
const (
	StepRemoveProxyRoute       = "remove_proxy_route"
	StepRemoveDNSRecord        = "remove_dns_record"
	StepRemoveBucket           = "remove_bucket"
	StepRevokeRelayCredentials = "revoke_relay_credentials"
	StepDropDatabase           = "drop_database"
	StepRemoveContainer        = "remove_container"
	StepRemoveNetwork          = "remove_network"
	StepRemoveSecrets          = "remove_secrets"
)

// DestructionStep 销毁流水线的一个步骤
// 必须对缺失的资源保持防御性：从未创建过的资源按 no-op 成功处理
type DestructionStep interface {
	Name() string
	Execute(ctx context.Context, dctx *destructionContext) error
}

// destructionContext 单次销毁执行的共享状态
// infra 可能为 nil：置备在建出任何资源前就失败了
type destructionContext struct {
	instance *model.Instance
	infra    *model.Infrastructure
}

// DestructionPipeline 销毁流水线
// 与置备相反，步骤失败被捕获、记录，流水线继续执行剩余步骤：
// 不完整但尽了全力的清理好过半途而废（比如泄漏一条 DNS 记录）
type DestructionPipeline struct {
	instanceRepo repository.InstanceRepository
	infraRepo    repository.InfrastructureRepository
	eventRepo    repository.EventRepository
	healthRepo   repository.HealthRepository
	billingRepo  repository.BillingRepository
	configRepo   repository.ConfigRepository
	allocator    *WorkerIdentityAllocator

	runtime container.Runtime
	dbAdmin dbadmin.Provisioner
	store   objstore.Provisioner
	proxy   proxy.Manager
	dns     dns.Provider
	relay   mediarelay.CredentialService

	idGen *idgen.Generator
	steps []DestructionStep
}

// NewDestructionPipeline 创建销毁流水线
// 步骤按置备的逆依赖顺序排列：先拆路由和 DNS，再拆它们依赖的
// 容器和网络
func NewDestructionPipeline(
	instanceRepo repository.InstanceRepository,
	infraRepo repository.InfrastructureRepository,
	eventRepo repository.EventRepository,
	healthRepo repository.HealthRepository,
	billingRepo repository.BillingRepository,
	configRepo repository.ConfigRepository,
	allocator *WorkerIdentityAllocator,
	runtime container.Runtime,
	dbAdmin dbadmin.Provisioner,
	store objstore.Provisioner,
	proxyManager proxy.Manager,
	dnsProvider dns.Provider,
	relay mediarelay.CredentialService,
) *DestructionPipeline {
	d := &DestructionPipeline{
		instanceRepo: instanceRepo,
		infraRepo:    infraRepo,
		eventRepo:    eventRepo,
		healthRepo:   healthRepo,
		billingRepo:  billingRepo,
		configRepo:   configRepo,
		allocator:    allocator,
		runtime:      runtime,
		dbAdmin:      dbAdmin,
		store:        store,
		proxy:        proxyManager,
		dns:          dnsProvider,
		relay:        relay,
		idGen:        idgen.DefaultGenerator(),
	}
	d.steps = []DestructionStep{
		&removeProxyRouteStep{d: d},
		&removeDNSRecordStep{d: d},
		&removeBucketStep{d: d},
		&revokeRelayCredentialsStep{d: d},
		&dropDatabaseStep{d: d},
		&removeContainerStep{d: d},
		&removeNetworkStep{d: d},
		&removeSecretsStep{d: d},
	}
	return d
}

// Run 为一个实例执行销毁流水线
// 无条件执行每个步骤；只有实例本身加载失败才返回错误
func (d *DestructionPipeline) Run(ctx context.Context, instanceID string) error {
	logger := zerolog.Ctx(ctx)

	instance, err := d.instanceRepo.GetByIDWithDeleted(ctx, instanceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apierror.WrapError(apierror.ErrResourceNotFound, "Instance does not exist", err)
		}
		return apierror.WrapError(apierror.ErrInternalError, "Failed to load instance", err)
	}

	dctx := &destructionContext{instance: instance}
	infra, err := d.infraRepo.GetByInstanceID(ctx, instanceID)
	if err == nil {
		dctx.infra = infra
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return apierror.WrapError(apierror.ErrInternalError, "Failed to load infrastructure record", err)
	}

	logger.Info().
		Str("instance_id", instanceID).
		Str("domain", instance.Domain).
		Bool("has_infrastructure", dctx.infra != nil).
		Msg("Destruction pipeline started")

	for _, step := range d.steps {
		d.runStep(ctx, dctx, step)
	}

	// 归还 worker identity，让它回到可复用的池子
	if err := d.allocator.ReleaseFor(ctx, instanceID); err != nil {
		logger.Error().Err(err).
			Str("instance_id", instanceID).
			Msg("Failed to release worker identity during destruction")
	}

	d.finalize(ctx, instance)

	logger.Info().
		Str("instance_id", instanceID).
		Msg("Destruction pipeline completed")
	return nil
}

// runStep 执行单个销毁步骤，失败只记录不中止
func (d *DestructionPipeline) runStep(ctx context.Context, dctx *destructionContext, step DestructionStep) {
	logger := zerolog.Ctx(ctx)

	eventID, err := d.idGen.GenerateEventID()
	if err != nil {
		logger.Error().Err(err).
			Str("instance_id", dctx.instance.ID).
			Str("step", step.Name()).
			Msg("Failed to generate event ID, running step without journal entry")
	}
	event := &model.ProvisioningEvent{
		ID:         eventID,
		InstanceID: dctx.instance.ID,
		Phase:      model.PhaseDestroy,
		Step:       step.Name(),
		Status:     model.EventStarted,
	}
	if eventID != "" {
		if err := d.eventRepo.Append(ctx, event); err != nil {
			logger.Error().Err(err).
				Str("instance_id", dctx.instance.ID).
				Str("step", step.Name()).
				Msg("Failed to record destruction event")
		}
	}

	if execErr := step.Execute(ctx, dctx); execErr != nil {
		logger.Error().Err(execErr).
			Str("instance_id", dctx.instance.ID).
			Str("step", step.Name()).
			Msg("Destruction step failed, continuing with remaining steps")
		event.Status = model.EventFailed
		event.Error = execErr.Error()
	} else {
		event.Status = model.EventSucceeded
	}

	if eventID != "" {
		if err := d.eventRepo.Complete(ctx, event); err != nil {
			logger.Error().Err(err).
				Str("instance_id", dctx.instance.ID).
				Str("step", step.Name()).
				Msg("Failed to complete destruction event")
		}
	}
}

// finalize 把实例标记为 destroyed 并软删除关联记录
func (d *DestructionPipeline) finalize(ctx context.Context, instance *model.Instance) {
	logger := zerolog.Ctx(ctx)

	instance.Status = model.StatusDestroyed
	if err := d.instanceRepo.UpdateWithVersion(ctx, instance); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			// 另一个循环刚改过状态，带最新版本重试一次
			fresh, gerr := d.instanceRepo.GetByIDWithDeleted(ctx, instance.ID)
			if gerr == nil {
				fresh.Status = model.StatusDestroyed
				err = d.instanceRepo.UpdateWithVersion(ctx, fresh)
			} else {
				err = gerr
			}
		}
		if err != nil {
			logger.Error().Err(err).
				Str("instance_id", instance.ID).
				Msg("Failed to mark instance destroyed")
		}
	}

	for name, fn := range map[string]func(context.Context, string) error{
		"health":  d.healthRepo.DeleteByInstanceID,
		"billing": d.billingRepo.DeleteByInstanceID,
		"config":  d.configRepo.DeleteByInstanceID,
	} {
		if err := fn(ctx, instance.ID); err != nil {
			logger.Error().Err(err).
				Str("instance_id", instance.ID).
				Str("record", name).
				Msg("Failed to delete dependent record")
		}
	}

	if err := d.instanceRepo.Delete(ctx, instance.ID); err != nil {
		logger.Error().Err(err).
			Str("instance_id", instance.ID).
			Msg("Failed to soft delete instance")
	}
}

// removeProxyRouteStep 删除反向代理路由
type removeProxyRouteStep struct {
	d *DestructionPipeline
}

func (s *removeProxyRouteStep) Name() string { return StepRemoveProxyRoute }

func (s *removeProxyRouteStep) Execute(ctx context.Context, dctx *destructionContext) error {
	if dctx.infra == nil || dctx.infra.RouteID == "" {
		return nil
	}
	return s.d.proxy.DeleteRoute(ctx, dctx.infra.RouteID)
}

// removeDNSRecordStep 删除域名 A 记录
type removeDNSRecordStep struct {
	d *DestructionPipeline
}

func (s *removeDNSRecordStep) Name() string { return StepRemoveDNSRecord }

func (s *removeDNSRecordStep) Execute(ctx context.Context, dctx *destructionContext) error {
	if dctx.instance.Domain == "" {
		return nil
	}
	return s.d.dns.DeleteARecord(ctx, dctx.instance.Domain)
}

// removeBucketStep 删除对象存储 bucket
// bucket 名称从域名确定性派生，基础设施记录缺失也能删
type removeBucketStep struct {
	d *DestructionPipeline
}

func (s *removeBucketStep) Name() string { return StepRemoveBucket }

func (s *removeBucketStep) Execute(ctx context.Context, dctx *destructionContext) error {
	if dctx.instance.Domain == "" {
		return nil
	}
	return s.d.store.DeprovisionBucket(ctx, objstore.BucketName(dctx.instance.Domain))
}

// revokeRelayCredentialsStep 吊销媒体中继凭证
type revokeRelayCredentialsStep struct {
	d *DestructionPipeline
}

func (s *revokeRelayCredentialsStep) Name() string { return StepRevokeRelayCredentials }

func (s *revokeRelayCredentialsStep) Execute(ctx context.Context, dctx *destructionContext) error {
	if dctx.infra == nil || dctx.infra.RelayAPIKey == "" {
		return nil
	}
	return s.d.relay.RevokeCredentials(ctx, dctx.infra.RelayAPIKey)
}

// dropDatabaseStep 删除实例专属数据库和账号
type dropDatabaseStep struct {
	d *DestructionPipeline
}

func (s *dropDatabaseStep) Name() string { return StepDropDatabase }

func (s *dropDatabaseStep) Execute(ctx context.Context, dctx *destructionContext) error {
	if dctx.infra == nil || dctx.infra.DBName == "" {
		return nil
	}
	return s.d.dbAdmin.DropDatabase(ctx, dctx.infra.DBName, dctx.infra.DBUser)
}

// removeContainerStep 停止并删除实例容器
type removeContainerStep struct {
	d *DestructionPipeline
}

func (s *removeContainerStep) Name() string { return StepRemoveContainer }

func (s *removeContainerStep) Execute(ctx context.Context, dctx *destructionContext) error {
	if dctx.infra == nil || dctx.infra.ContainerID == "" {
		return nil
	}
	if err := s.d.runtime.StopContainer(ctx, dctx.infra.ContainerID); err != nil {
		// 容器可能早已退出，继续尝试删除
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("instance_id", dctx.instance.ID).
			Str("container_id", dctx.infra.ContainerID).
			Msg("Failed to stop container before removal")
	}
	return s.d.runtime.RemoveContainer(ctx, dctx.infra.ContainerID)
}

// removeNetworkStep 删除实例的隔离网络
type removeNetworkStep struct {
	d *DestructionPipeline
}

func (s *removeNetworkStep) Name() string { return StepRemoveNetwork }

func (s *removeNetworkStep) Execute(ctx context.Context, dctx *destructionContext) error {
	if dctx.infra == nil || dctx.infra.NetworkID == "" {
		return nil
	}
	return s.d.runtime.RemoveNetwork(ctx, dctx.infra.NetworkID)
}

// removeSecretsStep 清除加密凭证包并软删除基础设施记录
type removeSecretsStep struct {
	d *DestructionPipeline
}

func (s *removeSecretsStep) Name() string { return StepRemoveSecrets }

func (s *removeSecretsStep) Execute(ctx context.Context, dctx *destructionContext) error {
	if dctx.infra == nil {
		return nil
	}

	// 先覆盖密文字段再软删除，软删除的行不再携带任何凭证
	dctx.infra.DBPasswordEnc = ""
	dctx.infra.StorageSecretKeyEnc = ""
	dctx.infra.RelaySecretEnc = ""
	dctx.infra.KEKEnc = ""
	dctx.infra.BootstrapTokenHash = ""
	if err := s.d.infraRepo.Update(ctx, dctx.infra); err != nil {
		return err
	}
	return s.d.infraRepo.DeleteByInstanceID(ctx, dctx.instance.ID)
}
