package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"esgcore/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	networks    map[string]model.NetworkSnapshot
	latest      string
	runs        map[string]model.TrainingRun
	actions     []model.OptimizationAction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Init prepares the store once; later calls keep existing records.
func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.networks = make(map[string]model.NetworkSnapshot)
	s.runs = make(map[string]model.TrainingRun)
	return nil
}

func (s *MemoryStore) SaveNetwork(_ context.Context, snapshot model.NetworkSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	s.networks[snapshot.ID] = cloneSnapshot(snapshot)
	if current, ok := s.networks[s.latest]; !ok || !snapshot.CreatedAt.Before(current.CreatedAt) {
		s.latest = snapshot.ID
	}
	return nil
}

func (s *MemoryStore) GetNetwork(_ context.Context, id string) (model.NetworkSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.networks[id]
	if !ok {
		return model.NetworkSnapshot{}, false, nil
	}
	return cloneSnapshot(snapshot), true, nil
}

func (s *MemoryStore) LatestNetwork(ctx context.Context) (model.NetworkSnapshot, bool, error) {
	s.mu.RLock()
	id := s.latest
	s.mu.RUnlock()
	if id == "" {
		return model.NetworkSnapshot{}, false, nil
	}
	return s.GetNetwork(ctx, id)
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.TrainingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	run.Metrics = append([]model.TrainingMetrics(nil), run.Metrics...)
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.TrainingRun, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, limit int) ([]model.TrainingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.TrainingRun, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *MemoryStore) AppendActions(_ context.Context, actions []model.OptimizationAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	s.actions = append(s.actions, actions...)
	return nil
}

func (s *MemoryStore) ListActions(_ context.Context, limit int) ([]model.OptimizationAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	actions := s.actions
	if limit > 0 && len(actions) > limit {
		actions = actions[len(actions)-limit:]
	}
	return append([]model.OptimizationAction(nil), actions...), nil
}

func cloneSnapshot(s model.NetworkSnapshot) model.NetworkSnapshot {
	out := s
	out.Topology = append([]model.LayerTopology(nil), s.Topology...)
	out.Parameters = make([]model.LayerParameters, len(s.Parameters))
	for i, p := range s.Parameters {
		out.Parameters[i] = model.LayerParameters{
			Weights: append([]float64(nil), p.Weights...),
			Biases:  append([]float64(nil), p.Biases...),
		}
	}
	out.Encoder.Categories = append([]string(nil), s.Encoder.Categories...)
	out.Encoder.Regions = append([]string(nil), s.Encoder.Regions...)
	return out
}
