// Package crypto encrypts session credentials at rest. Sessions survive
// process restarts in Redis, so the bearer credential they carry must never
// be stored in plaintext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// keySize 为 AES-256 所需的密钥长度（32 字节）
const keySize = 32

var (
	// ErrInvalidKeySize 密钥长度无效错误
	ErrInvalidKeySize = errors.New("encryption key must be 32 bytes (256 bits)")
	// ErrInvalidCiphertext 密文格式无效错误
	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short or malformed")
	// ErrDecryptionFailed 解密失败错误（认证标签校验不通过）
	ErrDecryptionFailed = errors.New("decryption failed: authentication failed")
)

// AESCrypto seals and opens credentials with AES-256-GCM. The wire form is
// base64(nonce || ciphertext || tag), self-contained per value: no nonce
// bookkeeping outside the stored string.
type AESCrypto struct {
	key []byte
}

// NewAESCrypto 创建凭证加密服务，key 必须为 32 字节
func NewAESCrypto(key []byte) (*AESCrypto, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}
	return &AESCrypto{key: key}, nil
}

// gcm builds the AEAD for this key. Constructed per call; the cipher carries
// no state worth caching next to a long-lived key.
func (a *AESCrypto) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(a.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

// Encrypt seals a credential for storage. An empty credential stays empty so
// optional fields round-trip without producing ciphertext.
func (a *AESCrypto) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	aead, err := a.gcm()
	if err != nil {
		return "", err
	}

	// 每次加密生成随机 nonce（12 字节），同一凭证两次加密产生不同密文
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a stored credential. Tampered or truncated values fail the
// GCM authentication check rather than decrypting to garbage.
func (a *AESCrypto) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	decoded, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	aead, err := a.gcm()
	if err != nil {
		return "", err
	}

	// 密文必须至少包含 nonce，否则格式无效
	nonceSize := aead.NonceSize()
	if len(decoded) < nonceSize {
		return "", ErrInvalidCiphertext
	}

	nonce, sealed := decoded[:nonceSize], decoded[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}
