package jobs

import "testing"

func TestComputeIDDeterministic(t *testing.T) {
	input := map[string]any{"n": 1}

	id1, err := ComputeID("e1", "s1", "h", input)
	if err != nil {
		t.Fatalf("ComputeID: %v", err)
	}
	id2, err := ComputeID("e1", "s1", "h", input)
	if err != nil {
		t.Fatalf("ComputeID: %v", err)
	}

	if id1 != id2 {
		t.Fatalf("expected deterministic id, got %q and %q", id1, id2)
	}
	if len(id1) != 32 {
		t.Fatalf("expected 128-bit hex id (32 chars), got %d: %q", len(id1), id1)
	}
}

func TestComputeIDDiffersByInput(t *testing.T) {
	id1, _ := ComputeID("e1", "s1", "h", map[string]any{"n": 1})
	id2, _ := ComputeID("e1", "s1", "h", map[string]any{"n": 2})
	if id1 == id2 {
		t.Fatal("expected different inputs to produce different ids")
	}
}

func TestComputeIDKeyOrderIndependent(t *testing.T) {
	id1, _ := ComputeID("e1", "s1", "h", map[string]any{"a": 1, "b": 2})
	id2, _ := ComputeID("e1", "s1", "h", map[string]any{"b": 2, "a": 1})
	if id1 != id2 {
		t.Fatal("expected map key order to not affect the computed id")
	}
}
