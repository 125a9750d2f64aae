package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"esgcore/internal/model"
)

type RedisOptions struct {
	Address   string
	Password  string
	DB        int
	TLSConfig *tls.Config
	// Prefix namespaces every key, e.g. "esg:".
	Prefix string
}

func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Address: "localhost:6379",
		Prefix:  "esg:",
	}
}

// RedisStore keeps snapshots and runs as JSON strings, indexes them in sorted
// sets by creation time and appends actions to a list.
type RedisStore struct {
	options RedisOptions

	mu     sync.RWMutex
	client *redis.Client
}

func NewRedisStore(options RedisOptions) *RedisStore {
	return &RedisStore{options: options}
}

func (s *RedisStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.options.Address == "" {
		return errors.New("redis address is required")
	}
	if s.client != nil {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:      s.options.Address,
		Password:  s.options.Password,
		DB:        s.options.DB,
		TLSConfig: s.options.TLSConfig,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return err
	}
	s.client = client
	return nil
}

func (s *RedisStore) key(parts ...string) string {
	key := s.options.Prefix
	for i, part := range parts {
		if i > 0 {
			key += ":"
		}
		key += part
	}
	return key
}

func (s *RedisStore) SaveNetwork(ctx context.Context, snapshot model.NetworkSnapshot) error {
	client, err := s.getClient()
	if err != nil {
		return err
	}
	payload, err := EncodeNetwork(snapshot)
	if err != nil {
		return err
	}
	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key("network", snapshot.ID), payload, 0)
		pipe.ZAdd(ctx, s.key("networks"), redis.Z{Score: float64(snapshot.CreatedAt.UnixNano()), Member: snapshot.ID})
		return nil
	})
	return err
}

func (s *RedisStore) GetNetwork(ctx context.Context, id string) (model.NetworkSnapshot, bool, error) {
	client, err := s.getClient()
	if err != nil {
		return model.NetworkSnapshot{}, false, err
	}
	payload, err := client.Get(ctx, s.key("network", id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.NetworkSnapshot{}, false, nil
		}
		return model.NetworkSnapshot{}, false, err
	}
	snapshot, err := DecodeNetwork(payload)
	if err != nil {
		return model.NetworkSnapshot{}, false, fmt.Errorf("decode network %s: %w", id, err)
	}
	return snapshot, true, nil
}

func (s *RedisStore) LatestNetwork(ctx context.Context) (model.NetworkSnapshot, bool, error) {
	client, err := s.getClient()
	if err != nil {
		return model.NetworkSnapshot{}, false, err
	}
	ids, err := client.ZRevRange(ctx, s.key("networks"), 0, 0).Result()
	if err != nil {
		return model.NetworkSnapshot{}, false, err
	}
	if len(ids) == 0 {
		return model.NetworkSnapshot{}, false, nil
	}
	return s.GetNetwork(ctx, ids[0])
}

func (s *RedisStore) SaveRun(ctx context.Context, run model.TrainingRun) error {
	client, err := s.getClient()
	if err != nil {
		return err
	}
	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}
	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key("run", run.ID), payload, 0)
		pipe.ZAdd(ctx, s.key("runs"), redis.Z{Score: float64(run.StartedAt.UnixNano()), Member: run.ID})
		return nil
	})
	return err
}

func (s *RedisStore) GetRun(ctx context.Context, id string) (model.TrainingRun, bool, error) {
	client, err := s.getClient()
	if err != nil {
		return model.TrainingRun{}, false, err
	}
	payload, err := client.Get(ctx, s.key("run", id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.TrainingRun{}, false, nil
		}
		return model.TrainingRun{}, false, err
	}
	run, err := DecodeRun(payload)
	if err != nil {
		return model.TrainingRun{}, false, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, true, nil
}

func (s *RedisStore) ListRuns(ctx context.Context, limit int) ([]model.TrainingRun, error) {
	client, err := s.getClient()
	if err != nil {
		return nil, err
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := client.ZRevRange(ctx, s.key("runs"), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	runs := make([]model.TrainingRun, 0, len(ids))
	for _, id := range ids {
		run, ok, err := s.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			runs = append(runs, run)
		}
	}
	return runs, nil
}

func (s *RedisStore) AppendActions(ctx context.Context, actions []model.OptimizationAction) error {
	if len(actions) == 0 {
		return nil
	}
	client, err := s.getClient()
	if err != nil {
		return err
	}
	values := make([]any, 0, len(actions))
	for _, action := range actions {
		payload, err := EncodeAction(action)
		if err != nil {
			return err
		}
		values = append(values, payload)
	}
	return client.RPush(ctx, s.key("actions"), values...).Err()
}

func (s *RedisStore) ListActions(ctx context.Context, limit int) ([]model.OptimizationAction, error) {
	client, err := s.getClient()
	if err != nil {
		return nil, err
	}
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	items, err := client.LRange(ctx, s.key("actions"), start, -1).Result()
	if err != nil {
		return nil, err
	}
	actions := make([]model.OptimizationAction, 0, len(items))
	for _, item := range items {
		action, err := DecodeAction([]byte(item))
		if err != nil {
			return nil, fmt.Errorf("decode action: %w", err)
		}
		actions = append(actions, action)
	}
	return actions, nil
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *RedisStore) getClient() (*redis.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.client == nil {
		return nil, errNotInitialized
	}
	return s.client, nil
}
