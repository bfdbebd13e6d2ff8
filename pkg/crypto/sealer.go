package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// 币安 API Key / Secret 落库前用 AES-256-GCM 加密，
// 库里存 base64(nonce || ciphertext || tag)。
// 配置里的密钥是任意长度的字符串，通过 HKDF-SHA256 派生出 32 字节 AES 密钥。

var (
	ErrWeakSecret        = errors.New("加密密钥长度至少 16 个字符")
	ErrInvalidCiphertext = errors.New("密文格式错误")
	ErrDecryptionFailed  = errors.New("解密失败")
)

const (
	minSecretLength = 16
	keyInfo         = "binancedash/credential-sealing/v1"
)

// Sealer 对凭证做加解密，并发安全
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer 根据配置密钥创建 Sealer
func NewSealer(secret string) (*Sealer, error) {
	if len(secret) < minSecretLength {
		return nil, ErrWeakSecret
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("派生密钥失败: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Sealer{aead: aead}, nil
}

// Seal 加密明文
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("生成 nonce 失败: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open 解密 Seal 的输出
func (s *Sealer) Open(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize+s.aead.Overhead() {
		return "", ErrInvalidCiphertext
	}

	plaintext, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}
