// Package api 提供控制面的运维 HTTP API
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jimyag/fleet/pkg/apierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type API struct {
	engine *gin.Engine
	server *http.Server

	instance *Instance
}

// New 创建 API 服务
func New(addr string, instanceService InstanceServiceInterface, registry *prometheus.Registry) (*API, error) {
	if addr == "" {
		addr = ":8080"
	}

	engine := gin.Default()
	api := &API{
		engine:   engine,
		instance: NewInstance(instanceService),
	}

	engine.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if registry != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}
	api.instance.RegisterRoutes(engine.Group("/api"))

	api.server = &http.Server{
		Addr:    addr,
		Handler: engine,
	}
	return api, nil
}

// Run 实现 grace.Grace 接口
func (a *API) Run(ctx context.Context) error {
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown 实现 grace.Grace 接口
func (a *API) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

// Name 实现 grace.Grace 接口
func (a *API) Name() string {
	return "API Server"
}

// renderError 把类型化错误映射为 HTTP 响应
// 未知错误一律按 500 处理，不向外泄漏内部细节
func renderError(ctx *gin.Context, err error) {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		ctx.JSON(apiErr.HTTPStatus, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
		return
	}
	ctx.JSON(http.StatusInternalServerError, gin.H{
		"code":    apierror.ErrInternalError.Code,
		"message": apierror.ErrInternalError.Message,
	})
}
