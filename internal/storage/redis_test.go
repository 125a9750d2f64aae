package storage

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
)

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("ESG_REDIS_ADDR")
	if addr == "" {
		t.Skip("ESG_REDIS_ADDR not set")
	}
	opts := DefaultRedisOptions()
	opts.Address = addr
	opts.Prefix = "esgtest:" + uuid.NewString() + ":"

	store := NewRedisStore(opts)
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	exerciseStore(t, store)
}

func TestRedisStoreRequiresInit(t *testing.T) {
	store := NewRedisStore(DefaultRedisOptions())
	if _, err := store.ListRuns(context.Background(), 1); err == nil {
		t.Fatal("expected error before init")
	}
}
