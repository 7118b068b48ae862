// Package dns 提供 DNS 提供商客户端
// 只消费 A 记录的创建/删除契约，提供商本身不在控制面范围内
package dns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Provider 定义 DNS 提供商接口
type Provider interface {
	// CreateARecord 为域名创建 A 记录，记录已存在时更新（upsert）
	CreateARecord(ctx context.Context, domain, ip string) error
	// ARecordExists 检查域名的 A 记录是否存在
	ARecordExists(ctx context.Context, domain string) (bool, error)
	// DeleteARecord 删除域名的 A 记录，记录不存在时视为成功
	DeleteARecord(ctx context.Context, domain string) error
}

// Client 基于 REST API 的 Provider 实现
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ Provider = (*Client)(nil)

// New 创建 DNS 客户端
func New(endpoint, token string) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("dns endpoint is empty")
	}
	return &Client{
		baseURL: endpoint,
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}, nil
}

// CreateARecord 创建 A 记录
func (c *Client) CreateARecord(ctx context.Context, domain, ip string) error {
	req := map[string]string{
		"type":    "A",
		"name":    domain,
		"content": ip,
	}
	if err := c.do(ctx, http.MethodPut, "/records/"+url.PathEscape(domain), req); err != nil {
		return fmt.Errorf("create A record for %s: %w", domain, err)
	}
	return nil
}

// ARecordExists 检查 A 记录
func (c *Client) ARecordExists(ctx context.Context, domain string) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/records/"+url.PathEscape(domain), nil)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// DeleteARecord 删除 A 记录
func (c *Client) DeleteARecord(ctx context.Context, domain string) error {
	err := c.do(ctx, http.MethodDelete, "/records/"+url.PathEscape(domain), nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete A record for %s: %w", domain, err)
	}
	return nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("dns API status %d: %s", e.status, e.body)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.status == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, body any) error {
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
	return nil
}
