package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"autopilot/internal/config"
	"autopilot/internal/profile"
)

// ErrCredential 表示单个用户的凭证不可用（缺失或解密失败）。
// 该错误只作用于该用户本轮的执行，绝不影响周期本身或其他用户。
var ErrCredential = errors.New("credential error")

// Credentials 为解密后的凭证对，仅在 WithDecrypted 的回调作用域内有效。
type Credentials struct {
	APIKey    []byte
	APISecret []byte
}

// Zero 覆写明文字节。回调返回后由 Vault 统一调用。
func (c *Credentials) Zero() {
	for i := range c.APIKey {
		c.APIKey[i] = 0
	}
	for i := range c.APISecret {
		c.APISecret[i] = 0
	}
	c.APIKey = nil
	c.APISecret = nil
}

// Vault 使用 AES-256-GCM 管理用户凭证的加解密。
// 密钥由配置的密钥串经 sha256 派生为 32 字节。
type Vault struct {
	aead cipher.AEAD
}

// New 根据配置创建凭证保管器。
func New(cfg config.VaultConfig) (*Vault, error) {
	if cfg.EncryptionKey == "" {
		return nil, errors.New("vault: encryption_key 不能为空")
	}

	key := sha256.Sum256([]byte(cfg.EncryptionKey))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("vault: 初始化密码器失败: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: 初始化GCM失败: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt 加密明文并返回 base64url 编码的密文，供设置层写入档案。
func (v *Vault) Encrypt(plain string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: 生成随机数失败: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// decrypt 解密 base64url 密文，返回明文字节，调用方负责清零。
func (v *Vault) decrypt(encoded string) ([]byte, error) {
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: 密文编码非法: %v", ErrCredential, err)
	}

	nonceSize := v.aead.NonceSize()
	if len(raw) <= nonceSize {
		return nil, fmt.Errorf("%w: 密文长度非法", ErrCredential)
	}

	plain, err := v.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: 解密失败: %v", ErrCredential, err)
	}

	return plain, nil
}

// WithDecrypted 在回调作用域内提供解密后的凭证对。
// 无论回调成功、报错还是被取消，明文都会在返回前被清零，绝不落盘或写日志。
func (v *Vault) WithDecrypted(p profile.TradeProfile, fn func(Credentials) error) error {
	if p.APIKeyEnc == "" || p.APISecretEnc == "" {
		return fmt.Errorf("%w: 用户 %d 未配置凭证", ErrCredential, p.UserID)
	}

	apiKey, err := v.decrypt(p.APIKeyEnc)
	if err != nil {
		return err
	}

	apiSecret, err := v.decrypt(p.APISecretEnc)
	if err != nil {
		for i := range apiKey {
			apiKey[i] = 0
		}
		return err
	}

	creds := Credentials{APIKey: apiKey, APISecret: apiSecret}
	defer creds.Zero()

	return fn(creds)
}
