package storage

import (
	"context"

	"esgcore/internal/model"
)

// Store persists trained networks, training run summaries and the
// optimization audit log.
type Store interface {
	Init(ctx context.Context) error
	SaveNetwork(ctx context.Context, snapshot model.NetworkSnapshot) error
	GetNetwork(ctx context.Context, id string) (model.NetworkSnapshot, bool, error)
	// LatestNetwork returns the most recently created snapshot.
	LatestNetwork(ctx context.Context) (model.NetworkSnapshot, bool, error)
	SaveRun(ctx context.Context, run model.TrainingRun) error
	GetRun(ctx context.Context, id string) (model.TrainingRun, bool, error)
	// ListRuns returns up to limit runs, newest first. limit <= 0 means all.
	ListRuns(ctx context.Context, limit int) ([]model.TrainingRun, error)
	AppendActions(ctx context.Context, actions []model.OptimizationAction) error
	// ListActions returns up to limit of the most recent actions in the
	// order they were appended. limit <= 0 means all.
	ListActions(ctx context.Context, limit int) ([]model.OptimizationAction, error)
}
