package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	exerciseStore(t, store)
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	store := NewMemoryStore()
	err := store.SaveNetwork(context.Background(), testSnapshot("n", time.Now()))
	if !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected not initialized error, got %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	snap := testSnapshot("n", time.Now())
	if err := store.SaveNetwork(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	snap.Parameters[0].Weights[0] = 99

	loaded, _, _ := store.GetNetwork(ctx, "n")
	if loaded.Parameters[0].Weights[0] != 0.25 {
		t.Fatalf("store aliased caller memory: %v", loaded.Parameters[0].Weights)
	}
	loaded.Parameters[0].Weights[0] = 42
	again, _, _ := store.GetNetwork(ctx, "n")
	if again.Parameters[0].Weights[0] != 0.25 {
		t.Fatal("store returned shared memory")
	}
}

func TestMemoryStoreInitKeepsRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := store.SaveNetwork(ctx, testSnapshot("n", time.Now())); err != nil {
		t.Fatalf("save network: %v", err)
	}
	if err := store.SaveRun(ctx, testRun("r", time.Now())); err != nil {
		t.Fatalf("save run: %v", err)
	}

	if err := store.Init(ctx); err != nil {
		t.Fatalf("second init: %v", err)
	}
	if _, ok, err := store.GetRun(ctx, "r"); err != nil || !ok {
		t.Fatalf("run lost after second init: ok=%t err=%v", ok, err)
	}
	latest, ok, err := store.LatestNetwork(ctx)
	if err != nil || !ok || latest.ID != "n" {
		t.Fatalf("latest network lost after second init: ok=%t id=%q err=%v", ok, latest.ID, err)
	}
}
