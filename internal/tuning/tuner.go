package tuning

import (
	"context"

	"esgcore/internal/model"
	"esgcore/internal/nn"
	"esgcore/internal/train"
)

// Target is the trainer-side surface the optimizer mutates. UpdateConfig must
// run fn under the same write lock that guards weight updates.
type Target interface {
	Config() train.Config
	UpdateConfig(fn func(*train.Config) error) error
	Topology() nn.Topology
}

// AuditLog persists applied, rejected and pending actions.
type AuditLog interface {
	AppendActions(ctx context.Context, actions []model.OptimizationAction) error
}

// MetricsSource feeds the periodic Run loop.
type MetricsSource interface {
	RecentMetrics(n int) []model.TrainingMetrics
}
