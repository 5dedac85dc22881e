package tokenstore

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	tokens, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if tokens.HasAccess() || tokens.HasRefresh() {
		t.Fatalf("expected empty store, got %#v", tokens)
	}

	if err := store.Set(ctx, "access-1", "refresh-1"); err != nil {
		t.Fatalf("set error: %v", err)
	}
	entries := store.Entries()
	if entries[AccessTokenKey] != "access-1" || entries[RefreshTokenKey] != "refresh-1" {
		t.Fatalf("unexpected layout: %#v", entries)
	}

	if err := store.SetAccess(ctx, "access-2"); err != nil {
		t.Fatalf("set access error: %v", err)
	}
	tokens, _ = store.Load(ctx)
	if tokens.Access != "access-2" || tokens.Refresh != "refresh-1" {
		t.Fatalf("expected refresh token to survive access rotation, got %#v", tokens)
	}

	if err := store.Set(ctx, "access-3", ""); err != nil {
		t.Fatalf("set error: %v", err)
	}
	tokens, _ = store.Load(ctx)
	if tokens.Access != "access-3" || tokens.HasRefresh() {
		t.Fatalf("expected refresh entry to be removed, got %#v", tokens)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear error: %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("second clear should be a no-op, got %v", err)
	}
	if len(store.Entries()) != 0 {
		t.Fatalf("expected empty layout after clear")
	}
}

func TestMemoryStoreRejectsEmptyAccessToken(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	if err := store.Set(context.Background(), " ", "refresh"); !errors.Is(err, ErrEmptyAccessToken) {
		t.Fatalf("expected ErrEmptyAccessToken, got %v", err)
	}
	if err := store.SetAccess(context.Background(), ""); !errors.Is(err, ErrEmptyAccessToken) {
		t.Fatalf("expected ErrEmptyAccessToken, got %v", err)
	}
	if len(store.Entries()) != 0 {
		t.Fatalf("rejected writes must not touch the store")
	}
}
