// Package proxy 提供反向代理管理客户端
// 路由以不透明 routeID 标识；CreateRoute 把一个域名指向实例容器的
// 后端地址
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Manager 定义反向代理管理接口
type Manager interface {
	// CreateRoute 创建 domain -> backend 的路由，返回 routeID
	CreateRoute(ctx context.Context, domain, backend string) (string, error)
	// VerifyRoute 检查路由是否仍然存在且有效
	VerifyRoute(ctx context.Context, routeID string) (bool, error)
	// DeleteRoute 删除路由，路由不存在时视为成功
	DeleteRoute(ctx context.Context, routeID string) error
}

// Client 基于代理 admin API 的 Manager 实现
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ Manager = (*Client)(nil)

// New 创建代理管理客户端
func New(endpoint, token string) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("proxy endpoint is empty")
	}
	return &Client{
		baseURL: endpoint,
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}, nil
}

// CreateRoute 创建路由
func (c *Client) CreateRoute(ctx context.Context, domain, backend string) (string, error) {
	req := map[string]string{
		"domain":  domain,
		"backend": backend,
	}
	var resp struct {
		RouteID string `json:"route_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/routes", req, &resp); err != nil {
		return "", fmt.Errorf("create route for %s: %w", domain, err)
	}
	return resp.RouteID, nil
}

// VerifyRoute 检查路由
func (c *Client) VerifyRoute(ctx context.Context, routeID string) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/routes/"+routeID, nil, nil)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// DeleteRoute 删除路由
func (c *Client) DeleteRoute(ctx context.Context, routeID string) error {
	err := c.do(ctx, http.MethodDelete, "/routes/"+routeID, nil, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete route %s: %w", routeID, err)
	}
	return nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("proxy admin API status %d: %s", e.status, e.body)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.status == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{status: resp.StatusCode, body: string(raw)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
