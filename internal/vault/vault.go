// Package vault encrypts provider access tokens at rest.
//
// FORMAT:
// base64std( nonce(12) || AES-256-GCM ciphertext+tag )
//
// The 32-byte AES key is derived from the configured secret with
// HKDF-SHA256, so any non-empty secret works.
//
// DEGRADED MODES:
//   - No secret configured: Encrypt logs a warning and stores plaintext.
//   - Decrypt cannot decode or open its input: the input is returned as-is.
//     Tokens written before encryption was enabled keep working.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize  = 32
	hkdfInfo = "adprofit token vault v1"
)

// Vault is safe for concurrent use.
type Vault struct {
	aead   cipher.AEAD
	logger *slog.Logger
}

// New builds a Vault from secret. An empty secret yields a pass-through vault.
func New(secret string, logger *slog.Logger) (*Vault, error) {
	v := &Vault{logger: logger}
	if secret == "" {
		logger.Warn("TOKEN_ENCRYPTION_KEY not set, provider tokens will be stored in plaintext")
		return v, nil
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("vault: deriving key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: creating gcm: %w", err)
	}
	v.aead = aead
	return v, nil
}

// Enabled reports whether tokens are actually encrypted.
func (v *Vault) Enabled() bool { return v.aead != nil }

// Encrypt seals plaintext with a fresh random nonce.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if v.aead == nil {
		v.logger.Warn("storing provider token without encryption")
		return plaintext, nil
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generating nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Anything it cannot open is
// treated as a legacy plaintext token and returned unchanged.
func (v *Vault) Decrypt(ciphertext string) string {
	if v.aead == nil {
		return ciphertext
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return ciphertext
	}
	ns := v.aead.NonceSize()
	if len(raw) < ns+v.aead.Overhead() {
		return ciphertext
	}
	plain, err := v.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		v.logger.Debug("token did not decrypt, treating as plaintext")
		return ciphertext
	}
	return string(plain)
}
