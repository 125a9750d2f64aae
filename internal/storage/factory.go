package storage

import (
	"fmt"
	"log/slog"
	"time"
)

// Options selects and configures a backend for NewStore.
type Options struct {
	Kind       string
	SQLitePath string
	Redis      RedisOptions
	// Retries wraps network backends in a RetryStore when > 0.
	Retries   uint64
	RetryBase time.Duration
	Logger    *slog.Logger
}

func NewStore(opts Options) (Store, error) {
	var store Store
	switch opts.Kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		s, err := newSQLiteStore(opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		store = s
	case "redis":
		store = NewRedisStore(opts.Redis)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", opts.Kind)
	}
	if opts.Retries > 0 {
		store = NewRetryStore(store, opts.Retries, opts.RetryBase, opts.Logger)
	}
	return store, nil
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
