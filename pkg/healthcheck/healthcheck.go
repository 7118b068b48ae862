// Package healthcheck 提供实例应用层健康探测
// 探测失败被折叠进结果，调用方永远拿不到 error：外部系统不可达
// 就是一次失败的检查，不是监控循环的异常
package healthcheck

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Result 一次探测的结果
type Result struct {
	Healthy        bool   // 健康端点是否返回健康
	ResponseTimeMs int64  // 响应耗时（毫秒）
	ErrorMessage   string // 失败原因，健康时为空
}

// Prober 定义健康探测接口
type Prober interface {
	// VerifyInstanceHealth 探测实例的公开健康端点
	VerifyInstanceHealth(ctx context.Context, domain string) *Result
}

// HTTPProber 基于 HTTP GET 的 Prober 实现
type HTTPProber struct {
	httpClient *http.Client
	scheme     string
	path       string
}

var _ Prober = (*HTTPProber)(nil)

// NewHTTPProber 创建探测器
// 探测 {scheme}://{domain}{path}，默认 https://{domain}/health
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProber{
		httpClient: &http.Client{Timeout: timeout},
		scheme:     "https",
		path:       "/health",
	}
}

// VerifyInstanceHealth 执行一次探测
func (p *HTTPProber) VerifyInstanceHealth(ctx context.Context, domain string) *Result {
	probeURL := fmt.Sprintf("%s://%s%s", p.scheme, domain, p.path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return &Result{ErrorMessage: fmt.Sprintf("build probe request: %v", err)}
	}

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return &Result{
			ResponseTimeMs: elapsed,
			ErrorMessage:   fmt.Sprintf("probe %s: %v", probeURL, err),
		}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return &Result{
			ResponseTimeMs: elapsed,
			ErrorMessage:   fmt.Sprintf("probe %s: status %d", probeURL, resp.StatusCode),
		}
	}

	return &Result{
		Healthy:        true,
		ResponseTimeMs: elapsed,
	}
}
