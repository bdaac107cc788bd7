package cache

import (
	"testing"

	"github.com/archguard/zeroaudit/internal/mcp"
)

func TestCacheRoundTripsEvidenceItem(t *testing.T) {
	c, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}

	key := ComputeEvidenceKey("mock-model", "SECRET_COPY", "wipe_key", "file.rs", "detail", "context", "system")
	item := &mcp.RawItem{File: "file.rs", Symbol: "wipe_key", Kind: "reachable_error_path", Detail: "corroborated"}

	if err := c.Put(key, item); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, hit, err := c.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !hit {
		t.Fatal("expected cache hit")
	}
	if got == nil || got.Symbol != "wipe_key" || got.Kind != "reachable_error_path" {
		t.Fatalf("unexpected cached item: %+v", got)
	}
}

func TestCacheCachesNoEvidenceVerdict(t *testing.T) {
	c, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}

	key := ComputeEvidenceKey("mock-model", "SECRET_COPY", "wipe_key", "file.rs", "detail", "context", "system")
	if err := c.Put(key, nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, hit, err := c.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !hit {
		t.Fatal("expected cache hit for cached no-evidence verdict")
	}
	if got != nil {
		t.Fatalf("expected nil item for a cached no-evidence verdict, got %+v", got)
	}
}

func TestCacheMissForUnknownKey(t *testing.T) {
	c, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}

	_, hit, err := c.Get("nonexistent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if hit {
		t.Fatal("expected cache miss for unknown key")
	}
}

func TestComputeEvidenceKeyIsDeterministicAndSensitiveToInputs(t *testing.T) {
	k1 := ComputeEvidenceKey("model", "CAT", "sym", "file", "detail", "ctx", "sys")
	k2 := ComputeEvidenceKey("model", "CAT", "sym", "file", "detail", "ctx", "sys")
	if k1 != k2 {
		t.Fatalf("expected deterministic key, got %q and %q", k1, k2)
	}

	k3 := ComputeEvidenceKey("model", "CAT", "sym", "file", "detail", "different-ctx", "sys")
	if k1 == k3 {
		t.Fatal("expected different source context to change the key")
	}
}
