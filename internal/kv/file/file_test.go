package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"mandoob/backend/internal/kv"
)

func TestRoundTrip(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	ctx := context.Background()

	if err := store.Set(ctx, "stc_pro_v14_system", `{"users":[]}`); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err := store.Get(ctx, "stc_pro_v14_system")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != `{"users":[]}` {
		t.Fatalf("value mangled: %q", got)
	}

	if err := store.Set(ctx, "stc_pro_v14_system", "v2"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if got, _ := store.Get(ctx, "stc_pro_v14_system"); got != "v2" {
		t.Fatalf("overwrite not visible: %q", got)
	}
}

func TestGetMissingKey(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	if _, err := store.Get(context.Background(), "absent"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected kv.ErrNotFound, got %v", err)
	}
}

func TestDeleteIsTolerant(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	ctx := context.Background()

	if err := store.Delete(ctx, "never-written"); err != nil {
		t.Fatalf("deleting a missing key must succeed: %v", err)
	}

	if err := store.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("deleted key must be gone, got %v", err)
	}
}

func TestKeySanitization(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	ctx := context.Background()

	if err := store.Set(ctx, "../escape", "v"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir failed: %v", err)
	}
	for _, e := range entries {
		if filepath.Dir(filepath.Join(dir, e.Name())) != dir {
			t.Fatalf("slot file escaped the data dir: %s", e.Name())
		}
	}
	if got, _ := store.Get(ctx, "../escape"); got != "v" {
		t.Fatalf("sanitized key must still round-trip, got %q", got)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape.json")); err == nil {
		t.Fatalf("key must not write outside the data dir")
	}
}
