// Package mediarelay 提供媒体中继（TURN）凭证服务
// 采用 coturn 的共享密钥 REST 方案：凭证由 HMAC 派生，中继服务器
// 可以独立验证，无需控制面参与
package mediarelay

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"
)

// Credentials 一个实例的中继凭证
type Credentials struct {
	APIKey string // 中继用户名（含过期时间戳）
	Secret string // HMAC 派生的口令
}

// CredentialService 定义中继凭证接口
type CredentialService interface {
	// IssueCredentials 为实例签发凭证
	IssueCredentials(ctx context.Context, instanceID string) (*Credentials, error)
	// RevokeCredentials 吊销凭证，凭证不存在时视为成功
	RevokeCredentials(ctx context.Context, apiKey string) error
}

// HMACService 基于共享密钥的 CredentialService 实现
type HMACService struct {
	secret []byte
	ttl    time.Duration
}

var _ CredentialService = (*HMACService)(nil)

// New 创建凭证服务
// secret 是与中继服务器共享的密钥；ttl 为 0 时默认一年
func New(secret string, ttl time.Duration) (*HMACService, error) {
	if secret == "" {
		return nil, fmt.Errorf("relay shared secret is empty")
	}
	if ttl == 0 {
		ttl = 365 * 24 * time.Hour
	}
	return &HMACService{
		secret: []byte(secret),
		ttl:    ttl,
	}, nil
}

// IssueCredentials 签发凭证
// username = {expiry}:{instanceID}，password = base64(HMAC-SHA1(secret, username))
func (s *HMACService) IssueCredentials(_ context.Context, instanceID string) (*Credentials, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("instance id is empty")
	}

	expiry := time.Now().Add(s.ttl).Unix()
	username := fmt.Sprintf("%d:%s", expiry, instanceID)

	mac := hmac.New(sha1.New, s.secret)
	mac.Write([]byte(username))
	password := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return &Credentials{
		APIKey: username,
		Secret: password,
	}, nil
}

// RevokeCredentials 吊销凭证
// 共享密钥方案下凭证到期自动失效，这里是 no-op
func (s *HMACService) RevokeCredentials(_ context.Context, _ string) error {
	return nil
}
