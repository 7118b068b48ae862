package mediarelay

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EmptySecret(t *testing.T) {
	t.Parallel()

	_, err := New("", 0)
	assert.Error(t, err)
}

func TestIssueCredentials(t *testing.T) {
	t.Parallel()

	svc, err := New("shared-secret", time.Hour)
	require.NoError(t, err)

	creds, err := svc.IssueCredentials(context.Background(), "in-123")
	require.NoError(t, err)

	// username 格式：{expiry}:{instanceID}
	parts := strings.SplitN(creds.APIKey, ":", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, "in-123", parts[1])

	// 中继服务器侧可以用共享密钥独立重算口令
	mac := hmac.New(sha1.New, []byte("shared-secret"))
	mac.Write([]byte(creds.APIKey))
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), creds.Secret)
}

func TestIssueCredentials_EmptyInstanceID(t *testing.T) {
	t.Parallel()

	svc, err := New("shared-secret", 0)
	require.NoError(t, err)

	_, err = svc.IssueCredentials(context.Background(), "")
	assert.Error(t, err)
}

func TestRevokeCredentials(t *testing.T) {
	t.Parallel()

	svc, err := New("shared-secret", 0)
	require.NoError(t, err)

	assert.NoError(t, svc.RevokeCredentials(context.Background(), "whatever"))
}
