// Package alert 提供运维告警分发
// 告警是 fire-and-forget：投递失败由调用方记录日志，不向监控循环
// 传播错误
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// InstanceHealthAlert 实例健康告警
type InstanceHealthAlert struct {
	AlertID      string `json:"alert_id"`
	InstanceID   string `json:"instance_id"`
	Domain       string `json:"domain"`
	FailureCount int    `json:"failure_count"`
	LastError    string `json:"last_error"`
	FiredAt      string `json:"fired_at"`
}

// Notifier 定义告警分发接口
type Notifier interface {
	// SendInstanceHealthAlert 向运维渠道发送实例健康告警
	SendInstanceHealthAlert(ctx context.Context, instanceID, domain string, failureCount int, lastError string) error
}

// WebhookNotifier 基于 webhook 的 Notifier 实现
type WebhookNotifier struct {
	webhookURL string
	httpClient *http.Client
}

var _ Notifier = (*WebhookNotifier)(nil)

// NewWebhookNotifier 创建 webhook 告警器
func NewWebhookNotifier(webhookURL string) (*WebhookNotifier, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("alert webhook URL is empty")
	}
	return &WebhookNotifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// SendInstanceHealthAlert 发送告警
func (n *WebhookNotifier) SendInstanceHealthAlert(ctx context.Context, instanceID, domain string, failureCount int, lastError string) error {
	payload := &InstanceHealthAlert{
		AlertID:      uuid.NewString(),
		InstanceID:   instanceID,
		Domain:       domain,
		FailureCount: failureCount,
		LastError:    lastError,
		FiredAt:      time.Now().UTC().Format(time.RFC3339),
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send alert: status %d", resp.StatusCode)
	}
	return nil
}
