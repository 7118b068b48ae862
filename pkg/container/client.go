package container

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

// Client 基于 HTTP API 的运行时客户端（Docker Engine API 风格）
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ Runtime = (*Client)(nil)

// New 创建运行时客户端
// endpoint 形如 http://127.0.0.1:2375
func New(endpoint string) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("runtime endpoint is empty")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("parse runtime endpoint: %w", err)
	}
	return &Client{
		baseURL: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// CreateNetwork 创建隔离网络，已存在同名网络时直接复用（create-if-not-exists）
func (c *Client) CreateNetwork(ctx context.Context, name string) (string, error) {
	// 先按名称查找，保证可重入
	var existing []struct {
		ID   string `json:"Id"`
		Name string `json:"Name"`
	}
	q := url.Values{"filters": []string{fmt.Sprintf(`{"name":["%s"]}`, name)}}
	if err := c.do(ctx, http.MethodGet, "/networks?"+q.Encode(), nil, &existing); err == nil {
		for _, n := range existing {
			if n.Name == name {
				return n.ID, nil
			}
		}
	}

	req := map[string]any{
		"Name":     name,
		"Driver":   "bridge",
		"Internal": false,
	}
	var resp struct {
		ID string `json:"Id"`
	}
	if err := c.do(ctx, http.MethodPost, "/networks/create", req, &resp); err != nil {
		return "", fmt.Errorf("create network %s: %w", name, err)
	}
	return resp.ID, nil
}

// NetworkExists 检查网络是否仍然存在
func (c *Client) NetworkExists(ctx context.Context, networkID string) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/networks/"+networkID, nil, nil)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// RemoveNetwork 删除网络，网络不存在时视为成功
func (c *Client) RemoveNetwork(ctx context.Context, networkID string) error {
	err := c.do(ctx, http.MethodDelete, "/networks/"+networkID, nil, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("remove network %s: %w", networkID, err)
	}
	return nil
}

// CreateContainer 创建并启动容器，返回容器 ID
func (c *Client) CreateContainer(ctx context.Context, spec *Spec) (string, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	restartPolicy := spec.RestartPolicy
	if restartPolicy == "" {
		restartPolicy = "unless-stopped"
	}

	req := map[string]any{
		"Image": spec.Image,
		"Env":   env,
		"HostConfig": map[string]any{
			"NetworkMode":   spec.NetworkID,
			"RestartPolicy": map[string]any{"Name": restartPolicy},
		},
	}

	var resp struct {
		ID string `json:"Id"`
	}
	path := "/containers/create?name=" + url.QueryEscape(spec.Name)
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return "", fmt.Errorf("create container %s: %w", spec.Name, err)
	}

	if err := c.do(ctx, http.MethodPost, "/containers/"+resp.ID+"/start", nil, nil); err != nil {
		return "", fmt.Errorf("start container %s: %w", resp.ID, err)
	}
	return resp.ID, nil
}

// ContainerRunning 检查容器是否处于运行状态
func (c *Client) ContainerRunning(ctx context.Context, containerID string) (bool, error) {
	var resp struct {
		State struct {
			Running bool `json:"Running"`
		} `json:"State"`
	}
	err := c.do(ctx, http.MethodGet, "/containers/"+containerID+"/json", nil, &resp)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return resp.State.Running, nil
}

// StopContainer 停止容器
// 配合运行时的重启策略，停止即触发一次重启
func (c *Client) StopContainer(ctx context.Context, containerID string) error {
	err := c.do(ctx, http.MethodPost, "/containers/"+containerID+"/stop", nil, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("stop container %s: %w", containerID, err)
	}
	return nil
}

// RemoveContainer 强制删除容器，容器不存在时视为成功
func (c *Client) RemoveContainer(ctx context.Context, containerID string) error {
	err := c.do(ctx, http.MethodDelete, "/containers/"+containerID+"?force=1", nil, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("remove container %s: %w", containerID, err)
	}
	return nil
}

// statusError 运行时 API 返回的非 2xx 状态
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("runtime API status %d: %s", e.status, e.body)
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
