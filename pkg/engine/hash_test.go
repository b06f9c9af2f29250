package engine

import "testing"

func TestSpecHash_Deterministic(t *testing.T) {
	attrs := Attributes{
		"engine":  "postgres",
		"version": "16",
		"nested":  map[string]any{"b": 2, "a": 1},
	}

	h1, err := SpecHash(attrs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := SpecHash(attrs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash not deterministic: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(h1))
	}
}

func TestSpecHash_InsertionOrderIndependent(t *testing.T) {
	a := Attributes{"x": 1, "y": "two", "z": true}
	b := Attributes{"z": true, "y": "two", "x": 1}

	ha, err := SpecHash(a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hb, err := SpecHash(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ha != hb {
		t.Errorf("equal maps hash differently: %s vs %s", ha, hb)
	}
}

func TestSpecHash_EmptyAndNil(t *testing.T) {
	hNil, err := SpecHash(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hEmpty, err := SpecHash(Attributes{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hNil != hEmpty {
		t.Errorf("nil and empty attributes hash differently: %s vs %s", hNil, hEmpty)
	}
}

func TestSpecHash_DetectsChange(t *testing.T) {
	before, err := SpecHash(Attributes{"size_gb": 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after, err := SpecHash(Attributes{"size_gb": 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if before == after {
		t.Error("different attributes produced equal hashes")
	}
}

func TestSpecHash_Unhashable(t *testing.T) {
	_, err := SpecHash(Attributes{"ch": make(chan int)})
	if err == nil {
		t.Fatal("expected error for unhashable attribute")
	}
	if !IsSpec(err) {
		t.Errorf("expected spec error, got: %v", err)
	}
}
