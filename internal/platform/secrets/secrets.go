// Package secrets provides AES-256-GCM field-level encryption for values
// that must never hit the database in the clear, such as enrolled TOTP
// shared secrets.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Cipher encrypts and decrypts sensitive account fields with a single
// 32-byte AES-256 key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("secrets: key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: create GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// NewCipherFromHex creates a Cipher from a 64-character hex key, the form
// the key takes in configuration.
func NewCipherFromHex(hexKey string) (*Cipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("secrets: decode key: %w", err)
	}
	return NewCipher(key)
}

// Encrypt returns the value as "nonce:ciphertext" with both parts
// hex-encoded. The colon can never appear inside hex, so splitting on the
// first colon is unambiguous regardless of the plaintext.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secrets: generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(encrypted string) (string, error) {
	idx := strings.IndexByte(encrypted, ':')
	if idx < 0 {
		return "", fmt.Errorf("secrets: malformed ciphertext")
	}
	nonce, err := hex.DecodeString(encrypted[:idx])
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return "", fmt.Errorf("secrets: malformed nonce")
	}
	sealed, err := hex.DecodeString(encrypted[idx+1:])
	if err != nil {
		return "", fmt.Errorf("secrets: malformed ciphertext")
	}
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypt: %w", err)
	}
	return string(plaintext), nil
}
