package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"esgcore/internal/model"
)

type flakyStore struct {
	*MemoryStore
	failures int
	calls    int
	err      error
}

func (f *flakyStore) GetRun(ctx context.Context, id string) (model.TrainingRun, bool, error) {
	f.calls++
	if f.calls <= f.failures {
		return model.TrainingRun{}, false, f.err
	}
	return f.MemoryStore.GetRun(ctx, id)
}

func (f *flakyStore) SaveRun(ctx context.Context, run model.TrainingRun) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return f.MemoryStore.SaveRun(ctx, run)
}

func newFlaky(t *testing.T, failures int, err error) *flakyStore {
	t.Helper()
	mem := NewMemoryStore()
	if err := mem.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return &flakyStore{MemoryStore: mem, failures: failures, err: err}
}

func TestRetryStoreRecoversFromTransientErrors(t *testing.T) {
	flaky := newFlaky(t, 2, errors.New("connection reset"))
	store := NewRetryStore(flaky, 3, time.Millisecond, nil)

	if err := store.SaveRun(context.Background(), testRun("r", time.Now())); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if flaky.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", flaky.calls)
	}
	if _, ok, _ := store.GetRun(context.Background(), "r"); !ok {
		t.Fatal("run not persisted")
	}
}

func TestRetryStoreGivesUp(t *testing.T) {
	flaky := newFlaky(t, 10, errors.New("connection refused"))
	store := NewRetryStore(flaky, 2, time.Millisecond, nil)
	if err := store.SaveRun(context.Background(), testRun("r", time.Now())); err == nil {
		t.Fatal("expected error after retries")
	}
	if flaky.calls != 3 {
		t.Fatalf("expected initial attempt plus 2 retries, got %d", flaky.calls)
	}
}

func TestRetryStoreDoesNotRetryPermanentErrors(t *testing.T) {
	flaky := newFlaky(t, 10, ErrVersionMismatch)
	store := NewRetryStore(flaky, 5, time.Millisecond, nil)
	err := store.SaveRun(context.Background(), testRun("r", time.Now()))
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
	if flaky.calls != 1 {
		t.Fatalf("permanent error retried %d times", flaky.calls)
	}
}

func TestRetryStoreDoesNotRetryCorruptRecords(t *testing.T) {
	_, decodeErr := DecodeRun([]byte("{broken"))
	flaky := newFlaky(t, 10, fmt.Errorf("decode run r: %w", decodeErr))
	store := NewRetryStore(flaky, 4, time.Millisecond, nil)

	_, _, err := store.GetRun(context.Background(), "r")
	if !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected corrupt record error, got %v", err)
	}
	if flaky.calls != 1 {
		t.Fatalf("corrupt record retried: %d attempts", flaky.calls)
	}
}
