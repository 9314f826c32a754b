package session

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.Now = func() time.Time { return now }

	if err := store.Create(ctx, "s1", time.Minute); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if ok, _ := store.Exists(ctx, "s1"); !ok {
		t.Fatal("expected live session")
	}

	if err := store.Revoke(ctx, "s1"); err != nil {
		t.Fatalf("Revoke error: %v", err)
	}
	if ok, _ := store.Exists(ctx, "s1"); ok {
		t.Fatal("expected revoked session")
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.Now = func() time.Time { return now }

	_ = store.Create(ctx, "s1", time.Minute)
	now = now.Add(time.Minute)
	if ok, _ := store.Exists(ctx, "s1"); ok {
		t.Fatal("expected expired session")
	}
}

func TestOpen_FallsBackToMemory(t *testing.T) {
	store := Open("", "", "", 0)
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected *MemoryStore, got %T", store)
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("memory ping: %v", err)
	}
	if _, ok := Open("localhost:6379", "", "", 0).(*RedisStore); !ok {
		t.Fatal("expected *RedisStore when an address is configured")
	}
}
