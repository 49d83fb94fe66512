package polystore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemBackend implements ObjectBackend using the local filesystem.
// Writes go to a temp file that is renamed into place, so readers never
// observe a partially written document.
type FilesystemBackend struct {
	basePath string
	locks    *StripedLocks // Fine-grained locking per key
}

// NewFilesystemBackend creates a filesystem backend rooted at basePath,
// creating the directory if needed.
func NewFilesystemBackend(basePath string) (*FilesystemBackend, error) {
	return NewFilesystemBackendWithStripes(basePath, DefaultFilesystemStripes)
}

// NewFilesystemBackendWithStripes creates a filesystem backend with custom stripe count
func NewFilesystemBackendWithStripes(basePath string, stripes int) (*FilesystemBackend, error) {
	if err := os.MkdirAll(basePath, DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("create base path: %w", err)
	}
	return &FilesystemBackend{
		basePath: basePath,
		locks:    NewStripedLocks(stripes),
	}, nil
}

func (b *FilesystemBackend) getPath(key string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	if clean == string(filepath.Separator) {
		return "", WithContext(ErrInvalidData, map[string]interface{}{"key": key})
	}
	return filepath.Join(b.basePath, clean), nil
}

func (b *FilesystemBackend) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := b.getPath(key)
	if err != nil {
		return nil, err
	}
	unlock := b.locks.RLock(key)
	defer unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (b *FilesystemBackend) Put(ctx context.Context, key string, data []byte) error {
	path, err := b.getPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return err
	}

	unlock := b.locks.Lock(key)
	defer unlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, DefaultFilePermissions); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (b *FilesystemBackend) Delete(ctx context.Context, key string) error {
	path, err := b.getPath(key)
	if err != nil {
		return err
	}
	unlock := b.locks.Lock(key)
	defer unlock()

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (b *FilesystemBackend) Exists(ctx context.Context, key string) (bool, error) {
	path, err := b.getPath(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *FilesystemBackend) ListPaginated(ctx context.Context, prefix string, handler func(keys []string) error) error {
	searchPath := filepath.Join(b.basePath, filepath.FromSlash(prefix))

	// A missing prefix directory is an empty listing
	if _, err := os.Stat(searchPath); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	batch := make([]string, 0, DefaultListPaginatedSize)

	err := filepath.WalkDir(searchPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		relPath, err := filepath.Rel(b.basePath, path)
		if err != nil {
			return err
		}
		// Forward slashes for consistency with S3
		batch = append(batch, filepath.ToSlash(relPath))

		if len(batch) >= DefaultListPaginatedSize {
			if err := handler(batch); err != nil {
				return err
			}
			batch = make([]string, 0, DefaultListPaginatedSize)
		}
		return nil
	})

	if len(batch) > 0 && err == nil {
		err = handler(batch)
	}
	return err
}

func (b *FilesystemBackend) Ping(ctx context.Context) error {
	info, err := os.Stat(b.basePath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("base path is not a directory: %s", b.basePath)
	}

	testFile := filepath.Join(b.basePath, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), DefaultFilePermissions); err != nil {
		return fmt.Errorf("cannot write to base path: %w", err)
	}
	os.Remove(testFile)

	return nil
}

func (b *FilesystemBackend) Close() error {
	return nil
}
