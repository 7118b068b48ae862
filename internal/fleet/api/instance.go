package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jimyag/fleet/internal/fleet/entity"
	"github.com/rs/zerolog"
)

// InstanceServiceInterface 定义实例服务的接口
type InstanceServiceInterface interface {
	CreateInstance(ctx context.Context, req *entity.CreateInstanceRequest) (*entity.Instance, error)
	ListInstances(ctx context.Context, filters map[string]interface{}) ([]*entity.Instance, error)
	GetInstance(ctx context.Context, instanceID string) (*entity.InstanceDetail, error)
	ListEvents(ctx context.Context, instanceID string) ([]*entity.ProvisioningEvent, error)
	DestroyInstance(ctx context.Context, instanceID string) (*entity.InstanceStateChange, error)
}

type Instance struct {
	instanceService InstanceServiceInterface
}

func NewInstance(instanceService InstanceServiceInterface) *Instance {
	return &Instance{
		instanceService: instanceService,
	}
}

func (i *Instance) RegisterRoutes(router *gin.RouterGroup) {
	instanceRouter := router.Group("/instances")
	instanceRouter.POST("", i.CreateInstance)
	instanceRouter.GET("", i.ListInstances)
	instanceRouter.GET("/:id", i.GetInstance)
	instanceRouter.GET("/:id/events", i.ListEvents)
	instanceRouter.DELETE("/:id", i.DestroyInstance)
}

func (i *Instance) CreateInstance(ctx *gin.Context) {
	logger := zerolog.Ctx(ctx)

	var req entity.CreateInstanceRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": "InvalidParameter", "message": err.Error()})
		return
	}

	logger.Info().
		Str("tenant_id", req.TenantID).
		Str("domain", req.Domain).
		Msg("CreateInstance called")

	instance, err := i.instanceService.CreateInstance(ctx, &req)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create instance")
		renderError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"instance": instance})
}

func (i *Instance) ListInstances(ctx *gin.Context) {
	logger := zerolog.Ctx(ctx)

	filters := map[string]interface{}{}
	if status := ctx.Query("status"); status != "" {
		filters["status"] = status
	}
	if tenantID := ctx.Query("tenant_id"); tenantID != "" {
		filters["tenant_id"] = tenantID
	}

	instances, err := i.instanceService.ListInstances(ctx, filters)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list instances")
		renderError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"instances": instances})
}

func (i *Instance) GetInstance(ctx *gin.Context) {
	logger := zerolog.Ctx(ctx)

	detail, err := i.instanceService.GetInstance(ctx, ctx.Param("id"))
	if err != nil {
		logger.Error().Err(err).
			Str("instance_id", ctx.Param("id")).
			Msg("Failed to get instance")
		renderError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, detail)
}

func (i *Instance) ListEvents(ctx *gin.Context) {
	logger := zerolog.Ctx(ctx)

	events, err := i.instanceService.ListEvents(ctx, ctx.Param("id"))
	if err != nil {
		logger.Error().Err(err).
			Str("instance_id", ctx.Param("id")).
			Msg("Failed to list instance events")
		renderError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"events": events})
}

func (i *Instance) DestroyInstance(ctx *gin.Context) {
	logger := zerolog.Ctx(ctx)

	instanceID := ctx.Param("id")
	logger.Info().
		Str("instance_id", instanceID).
		Msg("DestroyInstance called")

	change, err := i.instanceService.DestroyInstance(ctx, instanceID)
	if err != nil {
		logger.Error().Err(err).
			Str("instance_id", instanceID).
			Msg("Failed to destroy instance")
		renderError(ctx, err)
		return
	}

	logger.Info().
		Str("instance_id", instanceID).
		Msg("Instance destroyed successfully")
	ctx.JSON(http.StatusOK, change)
}
