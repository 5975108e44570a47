package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNullCache(t *testing.T) {
	ctx := context.Background()
	c := NewNullCache()
	defer c.Close()

	// Get always returns miss
	data, hit, err := c.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if hit {
		t.Error("NullCache.Get should always return miss")
	}
	if data != nil {
		t.Error("NullCache.Get should return nil data")
	}

	// Set does nothing (no error)
	if err := c.Set(ctx, "key", []byte("value"), time.Hour); err != nil {
		t.Errorf("Set error: %v", err)
	}

	// Still a miss after Set
	_, hit, _ = c.Get(ctx, "key")
	if hit {
		t.Error("NullCache should not store data")
	}

	// Delete does nothing (no error)
	if err := c.Delete(ctx, "key"); err != nil {
		t.Errorf("Delete error: %v", err)
	}
}

func TestHash(t *testing.T) {
	// Test determinism
	h1 := Hash([]byte("hello"))
	h2 := Hash([]byte("hello"))
	if h1 != h2 {
		t.Error("Hash should be deterministic")
	}

	// Test different inputs produce different hashes
	h3 := Hash([]byte("world"))
	if h1 == h3 {
		t.Error("Different inputs should produce different hashes")
	}

	// Test hash length (SHA-256 produces 64 hex chars)
	if len(h1) != 64 {
		t.Errorf("Hash length should be 64, got %d", len(h1))
	}
}

func TestDefaultKeyer(t *testing.T) {
	k := NewDefaultKeyer()

	dk := k.DatasetKey("file:controls.json")
	if !strings.HasPrefix(dk, "dataset:") || len(dk) != len("dataset:")+64 {
		t.Errorf("DatasetKey unexpected: %s", dk)
	}

	base := SceneKeyOpts{Focus: []string{"Governance"}, Depth: 2, Selection: []string{"NIST CSF 2.0", "PCI DSS 4.0.1"}}
	sk1 := k.SceneKey("hash123", base)

	reordered := base
	reordered.Selection = []string{"PCI DSS 4.0.1", "NIST CSF 2.0"}
	if k.SceneKey("hash123", reordered) != sk1 {
		t.Error("Selection order should not change the scene key")
	}

	deeper := base
	deeper.Depth = 3
	if k.SceneKey("hash123", deeper) == sk1 {
		t.Error("Different depth windows should produce different keys")
	}
	if k.SceneKey("hash456", base) == sk1 {
		t.Error("Different datasets should produce different keys")
	}

	ak1 := k.ArtifactKey("hash123", ArtifactKeyOpts{Format: "svg"})
	ak2 := k.ArtifactKey("hash123", ArtifactKeyOpts{Format: "dot"})
	if ak1 == ak2 {
		t.Error("Different formats should produce different keys")
	}
	if !strings.HasPrefix(ak1, "artifact:svg:") {
		t.Errorf("ArtifactKey unexpected: %s", ak1)
	}
}

func TestScopedKeyer(t *testing.T) {
	inner := NewDefaultKeyer()
	scoped := NewScopedKeyer(inner, "staging:")

	if got, want := scoped.DatasetKey("mongo"), "staging:"+inner.DatasetKey("mongo"); got != want {
		t.Errorf("ScopedKeyer DatasetKey = %s, want %s", got, want)
	}

	sceneKey := scoped.SceneKey("hash", SceneKeyOpts{})
	if !strings.HasPrefix(sceneKey, "staging:scene:") {
		t.Errorf("ScopedKeyer SceneKey should be prefixed: %s", sceneKey)
	}
}

func TestScopedKeyerNilInner(t *testing.T) {
	scoped := NewScopedKeyer(nil, "prefix:")
	key := scoped.ArtifactKey("hash", ArtifactKeyOpts{Format: "json"})
	if !strings.HasPrefix(key, "prefix:artifact:json:") {
		t.Errorf("Unexpected key with nil inner: %s", key)
	}
}

func TestFileCache(t *testing.T) {
	ctx := context.Background()
	c, err := NewFileCache(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("NewFileCache error: %v", err)
	}
	defer c.Close()

	if _, hit, err := c.Get(ctx, "scene:1"); hit || err != nil {
		t.Fatalf("empty cache Get = hit %v, err %v", hit, err)
	}

	if err := c.Set(ctx, "scene:1", []byte(`{"nodes":[]}`), time.Hour); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	data, hit, err := c.Get(ctx, "scene:1")
	if err != nil || !hit || string(data) != `{"nodes":[]}` {
		t.Errorf("Get = %q, hit %v, err %v", data, hit, err)
	}

	// Expired entries are misses and get removed.
	if err := c.Set(ctx, "scene:2", []byte("old"), time.Nanosecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, hit, _ := c.Get(ctx, "scene:2"); hit {
		t.Error("expired entry should be a miss")
	}

	// Corrupt entries are misses too.
	if err := os.WriteFile(c.path("scene:3"), []byte("{"), 0644); err == nil {
		if _, hit, _ := c.Get(ctx, "scene:3"); hit {
			t.Error("corrupt entry should be a miss")
		}
	}

	if err := c.Delete(ctx, "scene:1"); err != nil {
		t.Errorf("Delete error: %v", err)
	}
	if err := c.Delete(ctx, "scene:1"); err != nil {
		t.Errorf("Delete of a missing key error: %v", err)
	}
	if _, hit, _ := c.Get(ctx, "scene:1"); hit {
		t.Error("deleted entry should be a miss")
	}
}

func TestFileCacheClear(t *testing.T) {
	ctx := context.Background()
	c, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"a", "b", "c"} {
		if err := c.Set(ctx, key, []byte(key), 0); err != nil {
			t.Fatal(err)
		}
	}
	n, err := c.Clear()
	if err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	if n != 3 {
		t.Errorf("Clear removed %d entries, want 3", n)
	}
	if _, hit, _ := c.Get(ctx, "a"); hit {
		t.Error("entries should be gone after Clear")
	}
}

func TestRedisCacheUnreachable(t *testing.T) {
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := NewRedisCacheFromClient(client, "test:")
	defer c.Close()

	if _, hit, err := c.Get(ctx, "key"); err == nil || hit {
		t.Errorf("Get against a closed port = hit %v, err %v; want an error", hit, err)
	}
	if err := c.Set(ctx, "key", []byte("v"), time.Minute); err == nil {
		t.Error("Set against a closed port should fail")
	}

	if _, err := NewRedisCacheFromClient(client, "").Clear(ctx); err == nil {
		t.Error("Clear without a prefix should refuse")
	}
	if _, err := NewRedisCache(ctx, "not a url", ""); err == nil {
		t.Error("NewRedisCache should reject an invalid URL")
	}
}

func TestRetryableError(t *testing.T) {
	// Retryable(nil) returns nil
	if Retryable(nil) != nil {
		t.Error("Retryable(nil) should return nil")
	}

	// Non-nil error is wrapped
	err := Retryable(ErrUnavailable)
	if err == nil {
		t.Fatal("Retryable should return wrapped error")
	}
	if !IsRetryable(err) {
		t.Error("IsRetryable should return true for wrapped error")
	}

	// Error message is preserved
	if err.Error() != ErrUnavailable.Error() {
		t.Errorf("Error message should be preserved: %s", err.Error())
	}

	// Non-wrapped errors are not retryable
	if IsRetryable(ErrCacheMiss) {
		t.Error("IsRetryable should return false for unwrapped error")
	}
}

func TestRetryWithBackoff(t *testing.T) {
	ctx := context.Background()

	// Success on first try
	calls := 0
	err := RetryWithBackoff(ctx, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Errorf("Should succeed: %v", err)
	}
	if calls != 1 {
		t.Errorf("Should call once: %d", calls)
	}

	// Non-retryable error stops immediately
	calls = 0
	err = RetryWithBackoff(ctx, func() error {
		calls++
		return ErrCacheMiss
	})
	if err != ErrCacheMiss {
		t.Errorf("Should return non-retryable error: %v", err)
	}
	if calls != 1 {
		t.Errorf("Should not retry non-retryable error: %d", calls)
	}

	// Retryable error triggers retries
	calls = 0
	err = RetryWithBackoff(ctx, func() error {
		calls++
		if calls < 2 {
			return Retryable(ErrUnavailable)
		}
		return nil
	})
	if err != nil {
		t.Errorf("Should succeed after retry: %v", err)
	}
	if calls != 2 {
		t.Errorf("Should retry once: %d", calls)
	}
}

func TestRetryWithBackoffContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	err := RetryWithBackoff(ctx, func() error {
		return Retryable(ErrUnavailable)
	})
	if err != context.Canceled {
		t.Errorf("Should return context error: %v", err)
	}
}
