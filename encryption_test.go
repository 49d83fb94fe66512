package polystore

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"testing"
)

func newTestEncryption(t *testing.T) (*EncryptionBackend, *FilesystemBackend) {
	t.Helper()
	backend, err := NewFilesystemBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemBackend: %v", err)
	}
	key := make([]byte, 32)
	rand.Read(key)

	encBackend, err := NewEncryptionBackend(backend, key)
	if err != nil {
		t.Fatalf("Failed to create encryption backend: %v", err)
	}
	return encBackend, backend
}

func TestEncryptionBackend_InvalidKeyLength(t *testing.T) {
	backend, _ := NewFilesystemBackend(t.TempDir())

	for _, length := range []int{0, 16, 24, 31, 33, 64} {
		_, err := NewEncryptionBackend(backend, make([]byte, length))
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("key length %d: expected ErrInvalidConfig, got %v", length, err)
		}
	}
}

func TestEncryptionBackend_PutAndGet(t *testing.T) {
	ctx := context.Background()
	encBackend, backend := newTestEncryption(t)

	original := []byte(`{"owner_id":"alice","payload":{"ssn":"123-45-6789"}}`)
	if err := encBackend.Put(ctx, "json_documents/doc.json", original); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	raw, _ := backend.Get(ctx, "json_documents/doc.json")
	if bytes.Contains(raw, []byte("123-45-6789")) {
		t.Error("Data should be encrypted in storage")
	}

	retrieved, err := encBackend.Get(ctx, "json_documents/doc.json")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(retrieved, original) {
		t.Errorf("Expected %s, got %s", original, retrieved)
	}
}

func TestEncryptionBackend_NonceUniqueness(t *testing.T) {
	ctx := context.Background()
	encBackend, backend := newTestEncryption(t)

	data := []byte("same plaintext")
	encBackend.Put(ctx, "a", data)
	first, _ := backend.Get(ctx, "a")
	encBackend.Put(ctx, "a", data)
	second, _ := backend.Get(ctx, "a")

	if bytes.Equal(first, second) {
		t.Error("Encrypting the same plaintext twice should differ")
	}
}

func TestEncryptionBackend_KeyBinding(t *testing.T) {
	ctx := context.Background()
	encBackend, backend := newTestEncryption(t)

	encBackend.Put(ctx, "a", []byte("secret"))
	raw, _ := backend.Get(ctx, "a")
	backend.Put(ctx, "b", raw)

	if _, err := encBackend.Get(ctx, "b"); !errors.Is(err, ErrInvalidData) {
		t.Errorf("ciphertext moved to another key should not decrypt, got %v", err)
	}
}

func TestEncryptionBackend_CorruptedData(t *testing.T) {
	ctx := context.Background()
	encBackend, backend := newTestEncryption(t)

	encBackend.Put(ctx, "test-key", []byte("original data"))

	encrypted, _ := backend.Get(ctx, "test-key")
	corrupted := append(encrypted[:len(encrypted)-5], []byte("xxxxx")...)
	backend.Put(ctx, "test-key", corrupted)

	if _, err := encBackend.Get(ctx, "test-key"); !errors.Is(err, ErrInvalidData) {
		t.Errorf("Expected ErrInvalidData for corrupted data, got %v", err)
	}

	backend.Put(ctx, "short", []byte("abc"))
	if _, err := encBackend.Get(ctx, "short"); !errors.Is(err, ErrInvalidData) {
		t.Errorf("Expected ErrInvalidData for short data, got %v", err)
	}
}

func TestEncryptionBackend_PassThrough(t *testing.T) {
	ctx := context.Background()
	encBackend, _ := newTestEncryption(t)

	encBackend.Put(ctx, "test-key", []byte("data"))
	if exists, _ := encBackend.Exists(ctx, "test-key"); !exists {
		t.Error("Exists should pass through")
	}
	if err := encBackend.Delete(ctx, "test-key"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := encBackend.Get(ctx, "test-key"); !IsNotFound(err) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}
