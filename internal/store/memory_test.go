package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	t.Run("missing key", func(t *testing.T) {
		if _, err := m.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		if err := m.Put(ctx, "k", []byte("v")); err != nil {
			t.Fatal(err)
		}
		value, err := m.Get(ctx, "k")
		if err != nil {
			t.Fatal(err)
		}
		if string(value) != "v" {
			t.Fatalf("got %q, want %q", value, "v")
		}
	})

	t.Run("returned slice is a copy", func(t *testing.T) {
		if err := m.Put(ctx, "k2", []byte("abc")); err != nil {
			t.Fatal(err)
		}
		value, _ := m.Get(ctx, "k2")
		value[0] = 'x'
		again, _ := m.Get(ctx, "k2")
		if string(again) != "abc" {
			t.Fatalf("stored value mutated: %q", again)
		}
	})
}
