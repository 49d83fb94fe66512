package polystore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

// TestObjectBackendCompliance runs the same suite against every backend
// that needs no external service. Integration tests reuse it for MinIO,
// S3 and GCS.
func TestObjectBackendCompliance(t *testing.T) {
	fs, err := NewFilesystemBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemBackend: %v", err)
	}
	encrypted, _ := newTestEncryption(t)

	backends := []struct {
		name    string
		backend ObjectBackend
	}{
		{"Filesystem", fs},
		{"Encrypted", encrypted},
	}
	for _, tc := range backends {
		t.Run(tc.name, func(t *testing.T) {
			runObjectBackendCompliance(t, context.Background(), tc.backend, "compliance-"+NewObjectID())
		})
	}
}

// runObjectBackendCompliance exercises ObjectBackend under prefix
func runObjectBackendCompliance(t *testing.T, ctx context.Context, backend ObjectBackend, prefix string) {
	t.Run("BasicCRUD", func(t *testing.T) {
		key := prefix + "/basic.json"
		data := []byte(`{"test":"data"}`)

		if err := backend.Put(ctx, key, data); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := backend.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if string(got) != string(data) {
			t.Errorf("Get = %s, want %s", got, data)
		}

		exists, err := backend.Exists(ctx, key)
		if err != nil || !exists {
			t.Fatalf("Exists = %v, %v; want true", exists, err)
		}

		// Overwrite replaces
		if err := backend.Put(ctx, key, []byte(`{"test":"v2"}`)); err != nil {
			t.Fatalf("Put overwrite: %v", err)
		}
		got, _ = backend.Get(ctx, key)
		if string(got) != `{"test":"v2"}` {
			t.Errorf("after overwrite Get = %s", got)
		}

		if err := backend.Delete(ctx, key); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		exists, err = backend.Exists(ctx, key)
		if err != nil || exists {
			t.Errorf("Exists after delete = %v, %v; want false", exists, err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		key := prefix + "/missing.json"
		if _, err := backend.Get(ctx, key); !IsNotFound(err) {
			t.Errorf("Get missing: expected ErrNotFound, got %v", err)
		}
		if err := backend.Delete(ctx, key); !IsNotFound(err) {
			t.Errorf("Delete missing: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListPaginated", func(t *testing.T) {
		listPrefix := prefix + "/list/"
		want := make([]string, 0, DefaultListPaginatedSize+5)
		for i := 0; i < DefaultListPaginatedSize+5; i++ {
			key := fmt.Sprintf("%sitem-%03d.json", listPrefix, i)
			if err := backend.Put(ctx, key, []byte(fmt.Sprintf(`{"id":%d}`, i))); err != nil {
				t.Fatalf("Put %s: %v", key, err)
			}
			want = append(want, key)
		}
		// Sibling prefix must not leak into the listing
		if err := backend.Put(ctx, prefix+"/other/x.json", []byte(`{}`)); err != nil {
			t.Fatalf("Put: %v", err)
		}

		var got []string
		err := backend.ListPaginated(ctx, listPrefix, func(keys []string) error {
			got = append(got, keys...)
			return nil
		})
		if err != nil {
			t.Fatalf("ListPaginated: %v", err)
		}
		sort.Strings(got)
		if len(got) != len(want) {
			t.Fatalf("listed %d keys, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("key %d = %s, want %s", i, got[i], want[i])
			}
		}
	})

	t.Run("ListHandlerError", func(t *testing.T) {
		if err := backend.Put(ctx, prefix+"/stop/a.json", []byte(`{}`)); err != nil {
			t.Fatalf("Put: %v", err)
		}
		stop := errors.New("stop")
		err := backend.ListPaginated(ctx, prefix+"/stop/", func([]string) error { return stop })
		if !errors.Is(err, stop) {
			t.Errorf("expected handler error, got %v", err)
		}
	})

	t.Run("ListEmptyPrefix", func(t *testing.T) {
		called := false
		err := backend.ListPaginated(ctx, prefix+"/nothing-here/", func([]string) error {
			called = true
			return nil
		})
		if err != nil {
			t.Fatalf("ListPaginated: %v", err)
		}
		if called {
			t.Error("handler called for an empty prefix")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := backend.Ping(ctx); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}

func TestFilesystemBackendListBatches(t *testing.T) {
	ctx := context.Background()
	backend, _ := NewFilesystemBackend(t.TempDir())
	for i := 0; i < 2*DefaultListPaginatedSize+1; i++ {
		backend.Put(ctx, fmt.Sprintf("b/%d.json", i), []byte(`{}`))
	}

	var sizes []int
	backend.ListPaginated(ctx, "b/", func(keys []string) error {
		sizes = append(sizes, len(keys))
		return nil
	})
	want := []int{DefaultListPaginatedSize, DefaultListPaginatedSize, 1}
	if fmt.Sprint(sizes) != fmt.Sprint(want) {
		t.Errorf("batch sizes = %v, want %v", sizes, want)
	}
}

func TestFilesystemBackendPathTraversal(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	base := filepath.Join(root, "data")
	backend, err := NewFilesystemBackend(base)
	if err != nil {
		t.Fatalf("NewFilesystemBackend: %v", err)
	}

	if err := backend.Put(ctx, "../escape.json", []byte(`{}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "escape.json")); err == nil {
		t.Fatal("key escaped the base path")
	}
	if _, err := os.Stat(filepath.Join(base, "escape.json")); err != nil {
		t.Errorf("expected the object inside the base path: %v", err)
	}

	if err := backend.Put(ctx, "/", []byte(`{}`)); !errors.Is(err, ErrInvalidData) {
		t.Errorf("Put at root: expected ErrInvalidData, got %v", err)
	}
}

func TestFilesystemBackendSkipsTempFiles(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	backend, _ := NewFilesystemBackend(base)

	if err := backend.Put(ctx, "c/a.json", []byte(`{}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := os.WriteFile(filepath.Join(base, "c", ".tmp-b.json-123"), []byte("partial"), 0644); err != nil {
		t.Fatal(err)
	}

	var keys []string
	backend.ListPaginated(ctx, "c/", func(batch []string) error {
		keys = append(keys, batch...)
		return nil
	})
	if len(keys) != 1 || keys[0] != "c/a.json" {
		t.Errorf("keys = %v, want [c/a.json]", keys)
	}
}

func TestFilesystemBackendPingMissingDir(t *testing.T) {
	base := filepath.Join(t.TempDir(), "gone")
	backend, err := NewFilesystemBackend(base)
	if err != nil {
		t.Fatalf("NewFilesystemBackend: %v", err)
	}
	if err := os.RemoveAll(base); err != nil {
		t.Fatal(err)
	}
	if err := backend.Ping(context.Background()); err == nil {
		t.Error("expected Ping to fail once the base path is gone")
	}
}

func TestNewObjectBackend(t *testing.T) {
	ctx := context.Background()

	cfg := DefaultConfig().Documents
	cfg.Path = t.TempDir()
	backend, err := NewObjectBackend(ctx, cfg)
	if err != nil {
		t.Fatalf("NewObjectBackend: %v", err)
	}
	if _, ok := backend.(*FilesystemBackend); !ok {
		t.Errorf("backend = %T, want *FilesystemBackend", backend)
	}

	cfg.EncryptionKey = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	backend, err = NewObjectBackend(ctx, cfg)
	if err != nil {
		t.Fatalf("NewObjectBackend with key: %v", err)
	}
	if _, ok := backend.(*EncryptionBackend); !ok {
		t.Errorf("backend = %T, want *EncryptionBackend", backend)
	}

	cfg.Backend = "tape"
	if _, err := NewObjectBackend(ctx, cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("unknown backend: expected ErrInvalidConfig, got %v", err)
	}
}

func TestBackendGuardClassifiesErrors(t *testing.T) {
	metrics := NewInMemoryMetrics()
	guard := newBackendGuard("SQL", time.Second, BreakerConfig{}, metrics, &NoOpLogger{})
	ctx := context.Background()

	err := guard.run(ctx, "write", func(context.Context) error { return errors.New("connection reset") })
	if !IsBackendUnavailable(err) {
		t.Errorf("raw error: expected backend unavailable, got %v", err)
	}

	err = guard.run(ctx, "read", func(context.Context) error { return WithContext(ErrNotFound, nil) })
	if !IsNotFound(err) || IsBackendUnavailable(err) {
		t.Errorf("not found must pass through unchanged, got %v", err)
	}

	if got := metrics.Counter(MetricBackendOps); got != 2 {
		t.Errorf("backend ops = %d, want 2", got)
	}
	if got := metrics.Counter(MetricBackendErrors); got != 1 {
		t.Errorf("backend errors = %d, want 1", got)
	}
	if got := metrics.TimingCount(MetricBackendLatency); got != 2 {
		t.Errorf("latency samples = %d, want 2", got)
	}
}

func TestBackendGuardTimeout(t *testing.T) {
	guard := newBackendGuard("NoSQL", 20*time.Millisecond, BreakerConfig{}, &NoOpMetrics{}, &NoOpLogger{})

	err := guard.run(context.Background(), "write", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
	if ErrorKind(err) != KindBackendUnavailable {
		t.Errorf("kind = %s, want %s", ErrorKind(err), KindBackendUnavailable)
	}
}

func TestBackendGuardOpensBreaker(t *testing.T) {
	guard := newBackendGuard("SQL", time.Second, BreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}, &NoOpMetrics{}, &NoOpLogger{})
	ctx := context.Background()

	calls := 0
	failing := func(context.Context) error {
		calls++
		return errors.New("dial tcp: connection refused")
	}
	guard.run(ctx, "write", failing)
	guard.run(ctx, "write", failing)

	err := guard.run(ctx, "write", failing)
	if !IsBackendUnavailable(err) {
		t.Errorf("expected backend unavailable from open breaker, got %v", err)
	}
	if calls != 2 {
		t.Errorf("backend called %d times, want 2 (third call rejected)", calls)
	}
	if guard.breaker.State() != BreakerOpen {
		t.Errorf("breaker state = %s, want open", guard.breaker.State())
	}
}
