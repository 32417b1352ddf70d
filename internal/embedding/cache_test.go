package embedding

import (
	"testing"
)

func TestEmbeddingCache_GetSet(t *testing.T) {
	c := NewEmbeddingCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Get("a")               // a is now most recently used
	c.Set("c", []float32{6}) // evicts b
	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("expected a to remain")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestEmbeddingCache_Disabled(t *testing.T) {
	c := NewEmbeddingCache(0)
	c.Set("a", []float32{1})
	if _, ok := c.Get("a"); ok {
		t.Error("zero-capacity cache should not store")
	}
}
