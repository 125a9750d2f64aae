package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"esgcore/internal/model"
)

// RetryStore retries transient backend failures with Fibonacci backoff.
// Version mismatches, decode failures and context errors are returned at once.
type RetryStore struct {
	inner      Store
	maxRetries uint64
	base       time.Duration
	logger     *slog.Logger
}

func NewRetryStore(inner Store, maxRetries uint64, base time.Duration, logger *slog.Logger) *RetryStore {
	if base <= 0 {
		base = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryStore{inner: inner, maxRetries: maxRetries, base: base, logger: logger}
}

// Unwrap exposes the wrapped store.
func (s *RetryStore) Unwrap() Store {
	return s.inner
}

func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrVersionMismatch) || errors.Is(err, ErrCorruptRecord) || errors.Is(err, errNotInitialized) {
		return false
	}
	return true
}

func (s *RetryStore) do(ctx context.Context, op string, task func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(s.maxRetries, retry.NewFibonacci(s.base))
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := task(ctx)
		if shouldRetry(err) {
			s.logger.Debug("store operation failed, retrying", "op", op, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && attempt > 1 {
		s.logger.Warn("store operation gave up", "op", op, "attempts", attempt, "error", err)
	}
	return err
}

func (s *RetryStore) Init(ctx context.Context) error {
	return s.do(ctx, "init", s.inner.Init)
}

func (s *RetryStore) SaveNetwork(ctx context.Context, snapshot model.NetworkSnapshot) error {
	return s.do(ctx, "save_network", func(ctx context.Context) error {
		return s.inner.SaveNetwork(ctx, snapshot)
	})
}

func (s *RetryStore) GetNetwork(ctx context.Context, id string) (snapshot model.NetworkSnapshot, ok bool, err error) {
	err = s.do(ctx, "get_network", func(ctx context.Context) error {
		var innerErr error
		snapshot, ok, innerErr = s.inner.GetNetwork(ctx, id)
		return innerErr
	})
	return snapshot, ok, err
}

func (s *RetryStore) LatestNetwork(ctx context.Context) (snapshot model.NetworkSnapshot, ok bool, err error) {
	err = s.do(ctx, "latest_network", func(ctx context.Context) error {
		var innerErr error
		snapshot, ok, innerErr = s.inner.LatestNetwork(ctx)
		return innerErr
	})
	return snapshot, ok, err
}

func (s *RetryStore) SaveRun(ctx context.Context, run model.TrainingRun) error {
	return s.do(ctx, "save_run", func(ctx context.Context) error {
		return s.inner.SaveRun(ctx, run)
	})
}

func (s *RetryStore) GetRun(ctx context.Context, id string) (run model.TrainingRun, ok bool, err error) {
	err = s.do(ctx, "get_run", func(ctx context.Context) error {
		var innerErr error
		run, ok, innerErr = s.inner.GetRun(ctx, id)
		return innerErr
	})
	return run, ok, err
}

func (s *RetryStore) ListRuns(ctx context.Context, limit int) (runs []model.TrainingRun, err error) {
	err = s.do(ctx, "list_runs", func(ctx context.Context) error {
		var innerErr error
		runs, innerErr = s.inner.ListRuns(ctx, limit)
		return innerErr
	})
	return runs, err
}

func (s *RetryStore) AppendActions(ctx context.Context, actions []model.OptimizationAction) error {
	return s.do(ctx, "append_actions", func(ctx context.Context) error {
		return s.inner.AppendActions(ctx, actions)
	})
}

func (s *RetryStore) ListActions(ctx context.Context, limit int) (actions []model.OptimizationAction, err error) {
	err = s.do(ctx, "list_actions", func(ctx context.Context) error {
		var innerErr error
		actions, innerErr = s.inner.ListActions(ctx, limit)
		return innerErr
	})
	return actions, err
}

func (s *RetryStore) Close() error {
	return CloseIfSupported(s.inner)
}
