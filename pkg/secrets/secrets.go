// Package secrets 提供持久化边界上的字段级加密
// 凭证、secret key 和每实例 KEK 在入库前加密，出库后按需解密，
// 控制面核心只在创建的瞬间接触明文
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize 加密密钥长度（字节）
const KeySize = chacha20poly1305.KeySize

// ErrInvalidKey 密钥长度不是 32 字节
var ErrInvalidKey = errors.New("secrets: key must be 32 bytes")

// ErrInvalidCiphertext 密文格式非法或认证失败
var ErrInvalidCiphertext = errors.New("secrets: invalid ciphertext")

// Cipher 字段级加解密接口
type Cipher interface {
	// Encrypt 加密明文，返回可入库的字符串
	Encrypt(plaintext string) (string, error)
	// Decrypt 解密 Encrypt 的输出
	Decrypt(ciphertext string) (string, error)
}

// AEADCipher 基于 ChaCha20-Poly1305 的 Cipher 实现
// 每次加密使用随机 nonce，nonce 与密文一起编码存储
type AEADCipher struct {
	key []byte
}

// NewCipher 用 32 字节密钥创建 Cipher
func NewCipher(key []byte) (*AEADCipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidKey, len(key))
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &AEADCipher{key: k}, nil
}

// NewCipherFromHex 用十六进制编码的密钥创建 Cipher
// 用于从环境变量加载密钥
func NewCipherFromHex(hexKey string) (*AEADCipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode hex key: %w", err)
	}
	return NewCipher(key)
}

// Encrypt 加密明文
func (c *AEADCipher) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return "", fmt.Errorf("create aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 解密 Encrypt 的输出
func (c *AEADCipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}

	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return "", fmt.Errorf("create aead: %w", err)
	}

	if len(raw) < aead.NonceSize() {
		return "", ErrInvalidCiphertext
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]

	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return string(plain), nil
}

// GenerateKey 生成随机的 32 字节密钥
// 用于生成每实例的 KEK
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}
