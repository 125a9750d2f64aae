package tuning

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"esgcore/internal/model"
	"esgcore/internal/train"
)

type State int32

const (
	StateIdle State = iota
	StateAnalyzing
	StateProposing
	StateApplying
)

func (s State) String() string {
	switch s {
	case StateAnalyzing:
		return "analyzing"
	case StateProposing:
		return "proposing"
	case StateApplying:
		return "applying"
	default:
		return "idle"
	}
}

const DefaultWindow = 10

type Config struct {
	Window     int        `json:"window"`
	Thresholds Thresholds `json:"thresholds"`
	Limits     Limits     `json:"limits"`
}

func DefaultConfig() Config {
	return Config{Window: DefaultWindow, Thresholds: DefaultThresholds(), Limits: DefaultLimits()}
}

func (c Config) Validate() error {
	switch {
	case c.Window <= 0:
		return model.Misconfigured("optimizer.window", "must be > 0, got %d", c.Window)
	case c.Thresholds.TrainingTime <= 0:
		return model.Misconfigured("optimizer.thresholds.training_time", "must be > 0")
	case c.Thresholds.InferenceTime <= 0:
		return model.Misconfigured("optimizer.thresholds.inference_time", "must be > 0")
	case c.Thresholds.Accuracy < 0 || c.Thresholds.Accuracy > 1:
		return model.Misconfigured("optimizer.thresholds.accuracy", "must be in [0, 1], got %v", c.Thresholds.Accuracy)
	case c.Limits.MaxBatchSize < 0 || c.Limits.MaxAugmentationFactor < 0:
		return model.Misconfigured("optimizer.limits", "limits must be >= 0")
	}
	return nil
}

// Finding is one detected bottleneck with the observation that triggered it.
type Finding struct {
	Bottleneck Bottleneck
	Observed   float64
	Threshold  float64
}

// Analysis summarizes the rolling metrics window.
type Analysis struct {
	Samples          int
	Accuracy         float64
	AvgEpochTime     time.Duration
	AvgInferenceTime time.Duration
	Findings         []Finding
}

// Report is the outcome of one optimization cycle.
type Report struct {
	Analysis              Analysis
	Actions               []model.OptimizationAction
	Applied               int
	ImprovementPercentage float64
}

// Optimizer watches training metrics and tunes trainer configuration. It
// never changes network topology; topology proposals are recorded as pending.
type Optimizer struct {
	cfg    Config
	logger *slog.Logger
	audit  AuditLog
	now    func() time.Time

	state atomic.Int32

	mu      sync.Mutex
	history []model.TrainingMetrics
	actions []model.OptimizationAction
	pending *model.OptimizationAction
	cycle   sync.Mutex
}

func NewOptimizer(cfg Config, audit AuditLog, logger *slog.Logger) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{cfg: cfg, audit: audit, logger: logger, now: time.Now}, nil
}

func (o *Optimizer) State() State {
	return State(o.state.Load())
}

// Observe appends metrics to the rolling window.
func (o *Optimizer) Observe(metrics ...model.TrainingMetrics) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = append(o.history, metrics...)
	if over := len(o.history) - o.cfg.Window; over > 0 {
		o.history = append([]model.TrainingMetrics(nil), o.history[over:]...)
	}
}

// Analyze evaluates the bottleneck rules over the window. Accuracy is the
// latest observation; times are window averages.
func (o *Optimizer) Analyze() Analysis {
	o.state.Store(int32(StateAnalyzing))
	defer o.state.CompareAndSwap(int32(StateAnalyzing), int32(StateIdle))
	return o.analyze()
}

func (o *Optimizer) analyze() Analysis {
	o.mu.Lock()
	window := append([]model.TrainingMetrics(nil), o.history...)
	o.mu.Unlock()

	var analysis Analysis
	analysis.Samples = len(window)
	if len(window) == 0 {
		return analysis
	}
	epochTimes := make([]float64, len(window))
	inferenceTimes := make([]float64, len(window))
	for i, m := range window {
		epochTimes[i] = float64(m.EpochTime)
		inferenceTimes[i] = float64(m.InferenceTime)
	}
	analysis.AvgEpochTime = time.Duration(stat.Mean(epochTimes, nil))
	analysis.AvgInferenceTime = time.Duration(stat.Mean(inferenceTimes, nil))
	analysis.Accuracy = window[len(window)-1].Accuracy

	th := o.cfg.Thresholds
	for _, b := range Bottlenecks {
		switch b {
		case BottleneckTrainingTime:
			if analysis.AvgEpochTime > th.TrainingTime {
				analysis.Findings = append(analysis.Findings, Finding{Bottleneck: b, Observed: analysis.AvgEpochTime.Seconds(), Threshold: th.TrainingTime.Seconds()})
			}
		case BottleneckPredictionTime:
			if analysis.AvgInferenceTime > th.InferenceTime {
				analysis.Findings = append(analysis.Findings, Finding{Bottleneck: b, Observed: analysis.AvgInferenceTime.Seconds(), Threshold: th.InferenceTime.Seconds()})
			}
		case BottleneckAccuracy:
			if analysis.Accuracy < th.Accuracy {
				analysis.Findings = append(analysis.Findings, Finding{Bottleneck: b, Observed: analysis.Accuracy, Threshold: th.Accuracy})
			}
		}
	}
	return analysis
}

// Propose maps every finding to its single candidate action.
func (o *Optimizer) Propose(analysis Analysis, target Target) ([]Proposal, error) {
	o.state.Store(int32(StateProposing))
	defer o.state.CompareAndSwap(int32(StateProposing), int32(StateIdle))
	return o.propose(analysis, target)
}

func (o *Optimizer) propose(analysis Analysis, target Target) ([]Proposal, error) {
	cfg := target.Config()
	topology := target.Topology()
	proposals := make([]Proposal, 0, len(analysis.Findings))
	for _, f := range analysis.Findings {
		policy, ok := PolicyFor(f.Bottleneck)
		if !ok {
			return nil, fmt.Errorf("no policy for bottleneck %s", f.Bottleneck)
		}
		p := policy.Propose(cfg, topology, o.cfg.Limits)
		p.Action.VersionedRecord = model.CurrentVersion()
		p.Action.ID = uuid.NewString()
		p.Action.CreatedAt = o.now().UTC()
		proposals = append(proposals, p)
	}
	return proposals, nil
}

// Apply commits every applicable proposal in one configuration update, so
// either all of them land or none do. Rejected proposals are soft failures:
// they are logged and audited but do not make Apply fail.
func (o *Optimizer) Apply(ctx context.Context, target Target, proposals []Proposal) (Report, error) {
	o.state.Store(int32(StateApplying))
	defer o.state.Store(int32(StateIdle))
	return o.apply(ctx, target, proposals)
}

func (o *Optimizer) apply(ctx context.Context, target Target, proposals []Proposal) (Report, error) {
	var report Report
	var mutations []func(*train.Config)
	for _, p := range proposals {
		if p.Action.Status == model.ActionApplied && p.mutate != nil {
			mutations = append(mutations, p.mutate)
		}
	}
	if len(mutations) > 0 {
		err := target.UpdateConfig(func(c *train.Config) error {
			for _, m := range mutations {
				m(c)
			}
			return nil
		})
		if err != nil {
			return report, fmt.Errorf("apply optimizations: %w", err)
		}
	}

	actions := make([]model.OptimizationAction, 0, len(proposals))
	for _, p := range proposals {
		a := p.Action
		actions = append(actions, a)
		switch a.Status {
		case model.ActionApplied:
			report.Applied++
			report.ImprovementPercentage += a.ExpectedGain * 100
			o.logger.Info("optimization applied", "bottleneck", a.Bottleneck, "parameter", a.Parameter, "old", a.OldValue, "new", a.NewValue)
		case model.ActionRejected:
			o.logger.Warn("optimization rejected", "bottleneck", a.Bottleneck, "parameter", a.Parameter, "reason", a.Reason)
		case model.ActionPending:
			o.logger.Info("optimization awaiting approval", "bottleneck", a.Bottleneck, "parameter", a.Parameter, "proposed_hidden", a.ProposedHidden)
		}
	}
	report.Actions = actions

	o.mu.Lock()
	o.actions = append(o.actions, actions...)
	for i := range actions {
		if actions[i].Status == model.ActionPending {
			pending := actions[i]
			o.pending = &pending
		}
	}
	o.mu.Unlock()

	if o.audit != nil && len(actions) > 0 {
		if err := o.audit.AppendActions(ctx, actions); err != nil {
			return report, fmt.Errorf("record optimization actions: %w", err)
		}
	}
	return report, nil
}

// Optimize runs one full analyze, propose, apply cycle.
func (o *Optimizer) Optimize(ctx context.Context, target Target) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	o.cycle.Lock()
	defer o.cycle.Unlock()

	o.state.Store(int32(StateAnalyzing))
	analysis := o.analyze()
	o.state.Store(int32(StateProposing))
	proposals, err := o.propose(analysis, target)
	if err != nil {
		o.state.Store(int32(StateIdle))
		return Report{Analysis: analysis}, err
	}
	report, err := o.Apply(ctx, target, proposals)
	report.Analysis = analysis
	return report, err
}

// Run pulls the latest window from source and optimizes every interval until
// ctx is done.
func (o *Optimizer) Run(ctx context.Context, interval time.Duration, source MetricsSource, target Target) error {
	if interval <= 0 {
		return model.Misconfigured("optimizer.interval", "must be > 0, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.mu.Lock()
			o.history = nil
			o.mu.Unlock()
			o.Observe(source.RecentMetrics(o.cfg.Window)...)
			if _, err := o.Optimize(ctx, target); err != nil {
				o.logger.Error("optimization cycle failed", "error", err)
			}
		}
	}
}

// Actions returns the audit log of this optimizer.
func (o *Optimizer) Actions() []model.OptimizationAction {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]model.OptimizationAction(nil), o.actions...)
}

// PendingTopology returns the latest unapproved topology proposal.
func (o *Optimizer) PendingTopology() (model.OptimizationAction, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == nil {
		return model.OptimizationAction{}, false
	}
	return *o.pending, true
}

// ClearPending drops the pending topology proposal once it has been decided.
func (o *Optimizer) ClearPending() {
	o.mu.Lock()
	o.pending = nil
	o.mu.Unlock()
}
