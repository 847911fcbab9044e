package storage

import (
	"context"
	"testing"

	"mandoob/backend/internal/domain"
	"mandoob/backend/internal/kv/mem"
)

func TestLoadDocumentEmptySlot(t *testing.T) {
	local := NewLocal(mem.New())

	doc, err := local.LoadDocument(context.Background())
	if err != nil {
		t.Fatalf("empty slot must not be an error: %v", err)
	}
	if doc != nil {
		t.Fatalf("empty slot must yield a nil document, got %+v", doc)
	}
}

func TestLoadDocumentCorruptSlot(t *testing.T) {
	slots := mem.New()
	_ = slots.Set(context.Background(), SystemKey, "{not json")

	if _, err := NewLocal(slots).LoadDocument(context.Background()); err == nil {
		t.Fatalf("corrupt slot must surface an error")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	local := NewLocal(mem.New())

	doc := domain.NewSystemDocument()
	doc.GlobalTheme = domain.ThemeDark
	doc.Users[0].DB.Stock[domain.SimJawwy] = 4

	if err := local.SaveDocument(context.Background(), doc); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := local.LoadDocument(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.GlobalTheme != domain.ThemeDark {
		t.Fatalf("theme lost in round trip")
	}
	if loaded.Users[0].DB.Stock[domain.SimJawwy] != 4 {
		t.Fatalf("stock lost in round trip")
	}
	if loaded.Users[0].DB.Settings.WeeklyTarget != domain.DefaultWeeklyTarget {
		t.Fatalf("loaded documents must be normalized, target=%v", loaded.Users[0].DB.Settings.WeeklyTarget)
	}
}

func TestRememberedUserLifecycle(t *testing.T) {
	local := NewLocal(mem.New())
	ctx := context.Background()

	id, err := local.RememberedUser(ctx)
	if err != nil || id != "" {
		t.Fatalf("fresh store: want empty id, got %q err %v", id, err)
	}

	if err := local.RememberUser(ctx, "talal-admin"); err != nil {
		t.Fatalf("remember failed: %v", err)
	}
	id, err = local.RememberedUser(ctx)
	if err != nil || id != "talal-admin" {
		t.Fatalf("want remembered id, got %q err %v", id, err)
	}

	if err := local.ForgetUser(ctx); err != nil {
		t.Fatalf("forget failed: %v", err)
	}
	id, _ = local.RememberedUser(ctx)
	if id != "" {
		t.Fatalf("id must be gone after forget, got %q", id)
	}
}
