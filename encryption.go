package polystore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// EncryptionBackend wraps any object backend with AES-256-GCM encryption
// at rest. Each object is stored as nonce||ciphertext and the object key is
// bound as additional data, so a ciphertext copied to another key fails to
// decrypt.
type EncryptionBackend struct {
	ObjectBackend
	aead cipher.AEAD
}

// NewEncryptionBackend wraps a backend with AES-256-GCM encryption.
// Key must be exactly 32 bytes for AES-256.
func NewEncryptionBackend(backend ObjectBackend, key []byte) (*EncryptionBackend, error) {
	if len(key) != 32 {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"expected_key_length": 32,
			"actual_key_length":   len(key),
			"reason":              "AES-256 requires 32-byte key",
		})
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &EncryptionBackend{
		ObjectBackend: backend,
		aead:          aead,
	}, nil
}

// Put encrypts data before storing
func (e *EncryptionBackend) Put(ctx context.Context, key string, data []byte) error {
	encrypted, err := e.encrypt(key, data)
	if err != nil {
		return fmt.Errorf("encryption failed: %w", err)
	}
	return e.ObjectBackend.Put(ctx, key, encrypted)
}

// Get decrypts data after retrieving
func (e *EncryptionBackend) Get(ctx context.Context, key string) ([]byte, error) {
	encrypted, err := e.ObjectBackend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return e.decrypt(key, encrypted)
}

func (e *EncryptionBackend) encrypt(key string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, []byte(key)), nil
}

func (e *EncryptionBackend) decrypt(key string, ciphertext []byte) ([]byte, error) {
	nonceSize := e.aead.NonceSize()
	if len(ciphertext) < nonceSize+e.aead.Overhead() {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"key":        key,
			"reason":     "ciphertext too short",
			"min_length": nonceSize + e.aead.Overhead(),
			"actual":     len(ciphertext),
		})
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, sealed, []byte(key))
	if err != nil {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"key":    key,
			"reason": "decryption failed",
		})
	}
	return plaintext, nil
}
