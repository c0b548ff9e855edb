package store

import "testing"

func TestSetContextPathFlatKey(t *testing.T) {
	ctx := map[string]any{"existing": "value"}
	if err := SetContextPath(ctx, "greeting", "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx["greeting"] != "hi" || ctx["existing"] != "value" {
		t.Fatalf("unexpected context: %#v", ctx)
	}
}

func TestSetContextPathNested(t *testing.T) {
	ctx := map[string]any{"unrelated": 1.0}
	if err := SetContextPath(ctx, "profile.address.city", "Springfield"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	profile, ok := ctx["profile"].(map[string]any)
	if !ok {
		t.Fatalf("expected profile to be a map, got %#v", ctx["profile"])
	}
	address, ok := profile["address"].(map[string]any)
	if !ok {
		t.Fatalf("expected address to be a map, got %#v", profile["address"])
	}
	if address["city"] != "Springfield" {
		t.Fatalf("expected city to be set, got %#v", address["city"])
	}
	if ctx["unrelated"] != 1.0 {
		t.Fatalf("expected unrelated key preserved, got %#v", ctx["unrelated"])
	}
}

func TestSetContextPathNestedOverwrite(t *testing.T) {
	ctx := map[string]any{"a": map[string]any{"b": "old", "c": "keep"}}
	if err := SetContextPath(ctx, "a.b", "new"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a := ctx["a"].(map[string]any)
	if a["b"] != "new" || a["c"] != "keep" {
		t.Fatalf("unexpected nested map: %#v", a)
	}
}
