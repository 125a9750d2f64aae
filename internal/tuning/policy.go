package tuning

import (
	"fmt"
	"time"

	"esgcore/internal/model"
	"esgcore/internal/nn"
	"esgcore/internal/train"
)

// Bottleneck is the closed set of inefficiencies the optimizer detects.
type Bottleneck int

const (
	BottleneckTrainingTime Bottleneck = iota + 1
	BottleneckPredictionTime
	BottleneckAccuracy
)

// Bottlenecks lists every kind in detection order.
var Bottlenecks = []Bottleneck{BottleneckTrainingTime, BottleneckPredictionTime, BottleneckAccuracy}

func (b Bottleneck) String() string {
	switch b {
	case BottleneckTrainingTime:
		return "training_time"
	case BottleneckPredictionTime:
		return "prediction_time"
	case BottleneckAccuracy:
		return "accuracy"
	default:
		return fmt.Sprintf("bottleneck(%d)", int(b))
	}
}

func (b Bottleneck) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

type Thresholds struct {
	TrainingTime  time.Duration `json:"training_time"`
	InferenceTime time.Duration `json:"inference_time"`
	Accuracy      float64       `json:"accuracy"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		TrainingTime:  60 * time.Second,
		InferenceTime: time.Second,
		Accuracy:      0.8,
	}
}

// Limits bound what a policy may propose. MaxBatchSize is the memory budget
// for one batch.
type Limits struct {
	MaxBatchSize          int `json:"max_batch_size"`
	MaxAugmentationFactor int `json:"max_augmentation_factor"`
}

func DefaultLimits() Limits {
	return Limits{MaxBatchSize: 1024, MaxAugmentationFactor: 8}
}

// Proposal is a candidate action plus the configuration change it makes when
// applied. Pending topology proposals carry no mutation.
type Proposal struct {
	Action model.OptimizationAction
	mutate func(*train.Config)
}

// ActionPolicy turns one bottleneck into exactly one proposal.
type ActionPolicy interface {
	Name() string
	Propose(cfg train.Config, topology nn.Topology, limits Limits) Proposal
}

// policies maps every Bottleneck to the policy answering it.
var policies = map[Bottleneck]ActionPolicy{
	BottleneckTrainingTime:   BatchSizePolicy{},
	BottleneckPredictionTime: TopologyReductionPolicy{},
	BottleneckAccuracy:       AugmentationPolicy{},
}

// PolicyFor returns the policy mapped to b.
func PolicyFor(b Bottleneck) (ActionPolicy, bool) {
	p, ok := policies[b]
	return p, ok
}

type BatchSizePolicy struct{}

func (BatchSizePolicy) Name() string { return "batch_size" }

func (p BatchSizePolicy) Propose(cfg train.Config, _ nn.Topology, limits Limits) Proposal {
	next := cfg.BatchSize * 2
	action := model.OptimizationAction{
		Bottleneck:   BottleneckTrainingTime.String(),
		Severity:     string(SeverityHigh),
		Parameter:    p.Name(),
		OldValue:     float64(cfg.BatchSize),
		NewValue:     float64(next),
		ExpectedGain: 0.3,
		Description:  "double the batch size to cut updates per epoch",
		Status:       model.ActionApplied,
	}
	if limits.MaxBatchSize > 0 && next > limits.MaxBatchSize {
		action.Status = model.ActionRejected
		action.Reason = fmt.Sprintf("batch size %d exceeds memory budget %d", next, limits.MaxBatchSize)
		return Proposal{Action: action}
	}
	return Proposal{Action: action, mutate: func(c *train.Config) { c.BatchSize = next }}
}

// TopologyReductionPolicy proposes halving every hidden layer. Topology is
// never changed automatically; the proposal stays pending until approved.
type TopologyReductionPolicy struct{}

func (TopologyReductionPolicy) Name() string { return "hidden_neurons" }

func (p TopologyReductionPolicy) Propose(_ train.Config, topology nn.Topology, _ Limits) Proposal {
	current, proposed := 0, 0
	hidden := make([]int, len(topology.Hidden))
	for i, layer := range topology.Hidden {
		hidden[i] = max(1, layer.Size/2)
		current += layer.Size
		proposed += hidden[i]
	}
	action := model.OptimizationAction{
		Bottleneck:     BottleneckPredictionTime.String(),
		Severity:       string(SeverityMedium),
		Parameter:      p.Name(),
		OldValue:       float64(current),
		NewValue:       float64(proposed),
		ExpectedGain:   0.5,
		Description:    "compress hidden layers for faster inference",
		ProposedHidden: hidden,
		Status:         model.ActionPending,
		Reason:         "topology changes require approval",
	}
	if proposed == current {
		action.Status = model.ActionRejected
		action.Reason = "hidden layers are already minimal"
	}
	return Proposal{Action: action}
}

type AugmentationPolicy struct{}

func (AugmentationPolicy) Name() string { return "augmentation_factor" }

func (p AugmentationPolicy) Propose(cfg train.Config, _ nn.Topology, limits Limits) Proposal {
	next := cfg.AugmentationFactor + 1
	action := model.OptimizationAction{
		Bottleneck:   BottleneckAccuracy.String(),
		Severity:     string(SeverityHigh),
		Parameter:    p.Name(),
		OldValue:     float64(cfg.AugmentationFactor),
		NewValue:     float64(next),
		ExpectedGain: 0.2,
		Description:  "augment training data with jittered copies",
		Status:       model.ActionApplied,
	}
	if limits.MaxAugmentationFactor > 0 && next > limits.MaxAugmentationFactor {
		action.Status = model.ActionRejected
		action.Reason = fmt.Sprintf("augmentation factor %d exceeds limit %d", next, limits.MaxAugmentationFactor)
		return Proposal{Action: action}
	}
	return Proposal{Action: action, mutate: func(c *train.Config) { c.AugmentationFactor = next }}
}
