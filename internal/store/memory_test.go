package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gomarketplace/cart-engine/internal/store"
)

func TestMemoryStore_GetMissing(t *testing.T) {
	s := store.NewMemoryStore()

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_SetOverwrites(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	if err := s.Set(ctx, "k", []byte("first")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("second")); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("expected second, got %q", got)
	}
	if s.Len() != 1 {
		t.Errorf("expected single key, got %d", s.Len())
	}
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	in := []byte("abc")
	s.Set(ctx, "k", in)
	in[0] = 'X'

	out, _ := s.Get(ctx, "k")
	if string(out) != "abc" {
		t.Fatalf("stored value changed through caller slice: %q", out)
	}
	out[1] = 'Y'

	again, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored value changed through returned slice: %q", again)
	}
}
