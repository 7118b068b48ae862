package service

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/jimyag/fleet/internal/fleet/entity"
	"github.com/jimyag/fleet/internal/fleet/repository"
	"github.com/jimyag/fleet/internal/fleet/repository/model"
	"github.com/jimyag/fleet/pkg/apierror"
	"github.com/jimyag/fleet/pkg/idgen"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// 域名必须是合法的 FQDN 形态，至少两段
var domainPattern = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)

// destroyRunner 实例服务驱动的销毁流水线契约，便于测试注入
type destroyRunner interface {
	Run(ctx context.Context, instanceID string) error
}

// InstanceService 实例服务
// 对外暴露实例生命周期操作：创建（入队等待置备）、查询、销毁
type InstanceService struct {
	instanceRepo repository.InstanceRepository
	healthRepo   repository.HealthRepository
	eventRepo    repository.EventRepository
	billingRepo  repository.BillingRepository
	queueRepo    repository.QueueRepository
	destroyer    destroyRunner
	limits       *TierLimits
	idGen        *idgen.Generator
}

// NewInstanceService 创建实例服务
func NewInstanceService(
	instanceRepo repository.InstanceRepository,
	healthRepo repository.HealthRepository,
	eventRepo repository.EventRepository,
	billingRepo repository.BillingRepository,
	queueRepo repository.QueueRepository,
	destroyer destroyRunner,
	limits *TierLimits,
) *InstanceService {
	return &InstanceService{
		instanceRepo: instanceRepo,
		healthRepo:   healthRepo,
		eventRepo:    eventRepo,
		billingRepo:  billingRepo,
		queueRepo:    queueRepo,
		destroyer:    destroyer,
		limits:       limits,
		idGen:        idgen.DefaultGenerator(),
	}
}

// CreateInstance 创建实例
// 实例以 pending 状态落库并入队，置备由编排器异步完成
func (s *InstanceService) CreateInstance(ctx context.Context, req *entity.CreateInstanceRequest) (*entity.Instance, error) {
	logger := zerolog.Ctx(ctx)

	if req.TenantID == "" {
		return nil, apierror.WrapError(apierror.ErrInvalidParameter, "tenant_id is required", nil)
	}
	if !domainPattern.MatchString(req.Domain) {
		return nil, apierror.WrapError(apierror.ErrInvalidParameter, "domain is not a valid hostname", nil)
	}
	tier := req.Tier
	if tier == "" {
		tier = "free"
	}
	limit, ok := s.limits.Lookup(tier)
	if !ok {
		return nil, apierror.WrapError(apierror.ErrInvalidParameter, "unknown billing tier "+tier, nil)
	}

	// 限额在这里先挡一次，置备流水线还会复查
	count, err := s.instanceRepo.CountActiveByTenant(ctx, req.TenantID)
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to count tenant instances", err)
	}
	if count >= int64(limit.MaxInstances) {
		return nil, apierror.WrapError(apierror.ErrTierLimitExceeded, "Tenant has reached its instance limit", nil)
	}

	// 域名唯一
	existing, err := s.instanceRepo.List(ctx, map[string]interface{}{"domain": req.Domain})
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to check domain", err)
	}
	if len(existing) > 0 {
		return nil, apierror.WrapError(apierror.ErrInvalidParameter, "domain is already in use", nil)
	}

	instanceID, err := s.idGen.GenerateInstanceID()
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to generate instance ID", err)
	}

	name := req.Name
	if name == "" {
		name = req.Domain
	}

	now := time.Now()
	instance := &model.Instance{
		ID:          instanceID,
		TenantID:    req.TenantID,
		Domain:      req.Domain,
		Name:        name,
		Description: req.Description,
		Status:      model.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.instanceRepo.Create(ctx, instance); err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to create instance", err)
	}

	billing := &model.Billing{
		InstanceID: instanceID,
		Tier:       tier,
		Status:     "active",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.billingRepo.Create(ctx, billing); err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to create billing record", err)
	}

	if err := s.queueRepo.Enqueue(ctx, instanceID); err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to enqueue instance for provisioning", err)
	}

	logger.Info().
		Str("instance_id", instanceID).
		Str("tenant_id", req.TenantID).
		Str("domain", req.Domain).
		Str("tier", tier).
		Msg("Instance created and enqueued for provisioning")

	return instanceModelToEntity(instance)
}

// ListInstances 列出实例，filters 支持 status / tenant_id / domain
func (s *InstanceService) ListInstances(ctx context.Context, filters map[string]interface{}) ([]*entity.Instance, error) {
	instances, err := s.instanceRepo.List(ctx, filters)
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to list instances", err)
	}

	result := make([]*entity.Instance, 0, len(instances))
	for _, instance := range instances {
		e, err := instanceModelToEntity(instance)
		if err != nil {
			return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to convert instance", err)
		}
		result = append(result, e)
	}
	return result, nil
}

// GetInstance 获取实例详情，附带健康信息（如果有）
func (s *InstanceService) GetInstance(ctx context.Context, instanceID string) (*entity.InstanceDetail, error) {
	instance, err := s.instanceRepo.GetByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierror.WrapError(apierror.ErrResourceNotFound, "Instance does not exist", err)
		}
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to load instance", err)
	}

	e, err := instanceModelToEntity(instance)
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to convert instance", err)
	}
	detail := &entity.InstanceDetail{Instance: e}

	health, err := s.healthRepo.GetByInstanceID(ctx, instanceID)
	if err == nil {
		if detail.Health, err = healthModelToEntity(health); err != nil {
			return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to convert health record", err)
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to load health record", err)
	}

	return detail, nil
}

// ListEvents 列出实例的置备/销毁事件（按发生顺序）
func (s *InstanceService) ListEvents(ctx context.Context, instanceID string) ([]*entity.ProvisioningEvent, error) {
	if _, err := s.instanceRepo.GetByIDWithDeleted(ctx, instanceID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierror.WrapError(apierror.ErrResourceNotFound, "Instance does not exist", err)
		}
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to load instance", err)
	}

	events, err := s.eventRepo.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to list events", err)
	}

	result := make([]*entity.ProvisioningEvent, 0, len(events))
	for _, event := range events {
		e, err := eventModelToEntity(event)
		if err != nil {
			return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to convert event", err)
		}
		result = append(result, e)
	}
	return result, nil
}

// DestroyInstance 销毁实例
// 销毁是 total-effort：流水线无条件执行每个步骤，个别步骤失败
// 不会让整个调用失败
func (s *InstanceService) DestroyInstance(ctx context.Context, instanceID string) (*entity.InstanceStateChange, error) {
	logger := zerolog.Ctx(ctx)

	instance, err := s.instanceRepo.GetByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierror.WrapError(apierror.ErrResourceNotFound, "Instance does not exist", err)
		}
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to load instance", err)
	}
	if instance.Status == model.StatusDestroyed {
		return nil, apierror.WrapError(apierror.ErrInstanceNotRunnable, "Instance is already destroyed", nil)
	}

	previous := instance.Status
	if err := s.destroyer.Run(ctx, instanceID); err != nil {
		return nil, err
	}

	logger.Info().
		Str("instance_id", instanceID).
		Str("previous_status", previous).
		Msg("Instance destroyed")

	return &entity.InstanceStateChange{
		InstanceID:     instanceID,
		PreviousStatus: previous,
		CurrentStatus:  model.StatusDestroyed,
	}, nil
}
