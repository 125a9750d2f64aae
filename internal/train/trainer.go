package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"esgcore/internal/model"
	"esgcore/internal/nn"
)

type State int32

const (
	StateIdle State = iota
	StateTraining
)

func (s State) String() string {
	if s == StateTraining {
		return "training"
	}
	return "idle"
}

type Phase int32

const (
	PhaseNone Phase = iota
	PhaseForwardPass
	PhaseLossComputation
	PhaseBackwardPass
	PhaseWeightUpdate
)

func (p Phase) String() string {
	switch p {
	case PhaseForwardPass:
		return "forward_pass"
	case PhaseLossComputation:
		return "loss_computation"
	case PhaseBackwardPass:
		return "backward_pass"
	case PhaseWeightUpdate:
		return "weight_update"
	default:
		return "none"
	}
}

const totalIndex = 3

type Options struct {
	// Lock guards the network parameters. Inference holds it for reading,
	// weight updates and configuration changes for writing. Nil gives the
	// trainer a private lock.
	Lock   *sync.RWMutex
	Logger *slog.Logger
}

// Trainer fits a Network with momentum gradient descent over mini-batches.
// Only one Train call runs at a time.
type Trainer struct {
	net    *nn.Network
	mu     *sync.RWMutex
	logger *slog.Logger
	config Config

	running atomic.Bool
	state   atomic.Int32
	phase   atomic.Int32

	// beforeUpdate runs under the write lock right before each weight update.
	beforeUpdate func(epoch, batch int, net *nn.Network)
}

type Result struct {
	Epochs   int
	Samples  int
	Metrics  []model.TrainingMetrics
	Duration time.Duration
}

// Final returns the metrics of the last completed epoch.
func (r Result) Final() (model.TrainingMetrics, bool) {
	if len(r.Metrics) == 0 {
		return model.TrainingMetrics{}, false
	}
	return r.Metrics[len(r.Metrics)-1], true
}

func New(net *nn.Network, cfg Config, opts Options) (*Trainer, error) {
	if net == nil {
		return nil, model.Misconfigured("trainer.network", "network is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lock := opts.Lock
	if lock == nil {
		lock = &sync.RWMutex{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{net: net, mu: lock, logger: logger, config: cfg}, nil
}

func (t *Trainer) Network() *nn.Network {
	return t.net
}

func (t *Trainer) Topology() nn.Topology {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.net.Topology()
}

func (t *Trainer) State() State {
	return State(t.state.Load())
}

func (t *Trainer) Phase() Phase {
	return Phase(t.phase.Load())
}

func (t *Trainer) Config() Config {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.config
}

// UpdateConfig applies fn to a copy of the configuration under the write lock
// and commits it only when fn succeeds and the result validates. A running
// Train call keeps the configuration it started with.
func (t *Trainer) UpdateConfig(fn func(*Config) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.config
	if err := fn(&next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	t.config = next
	return nil
}

// Train runs cfg.Epochs epochs over samples. Cancellation is observed only at
// epoch boundaries. On divergence or cancellation the network is left at the
// parameters it had when the interrupted epoch began, and the metrics of the
// completed epochs are returned with the error.
func (t *Trainer) Train(ctx context.Context, samples []Sample, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if err := checkSamples(samples, t.net.Inputs()); err != nil {
		return Result{}, err
	}
	if !t.running.CompareAndSwap(false, true) {
		return Result{}, ErrTrainingInProgress
	}
	defer t.running.Store(false)
	t.state.Store(int32(StateTraining))
	defer func() {
		t.phase.Store(int32(PhaseNone))
		t.state.Store(int32(StateIdle))
	}()

	started := time.Now()
	rnd := rand.New(rand.NewSource(cfg.Seed))
	data := augment(rnd, samples, cfg.AugmentationFactor, cfg.AugmentationJitter)
	order := make([]int, len(data))
	for i := range order {
		order[i] = i
	}

	t.mu.RLock()
	velocity := newVelocity(t.net)
	t.mu.RUnlock()

	result := Result{Samples: len(data)}
	finish := func(err error) (Result, error) {
		result.Epochs = len(result.Metrics)
		result.Duration = time.Since(started)
		return result, err
	}

	t.logger.Info("training started",
		"samples", len(samples),
		"augmented", len(data),
		"epochs", cfg.Epochs,
		"batch_size", cfg.BatchSize,
		"learning_rate", cfg.LearningRate,
		"workers", cfg.Workers,
	)

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		t.mu.RLock()
		checkpoint := t.net.Checkpoint()
		t.mu.RUnlock()

		if err := ctx.Err(); err != nil {
			t.mu.Lock()
			restoreErr := t.net.Restore(checkpoint)
			t.mu.Unlock()
			t.logger.Info("training cancelled", "completed_epochs", epoch-1)
			return finish(errors.Join(fmt.Errorf("%w after %d epochs: %w", ErrCancelled, epoch-1, err), restoreErr))
		}

		epochStart := time.Now()
		rnd.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})

		batch := 0
		for start := 0; start < len(order); start += cfg.BatchSize {
			end := min(start+cfg.BatchSize, len(order))
			t.mu.RLock()
			grads, err := t.batchGradients(data, order[start:end], cfg.Workers)
			t.mu.RUnlock()
			if err != nil {
				return finish(fmt.Errorf("epoch %d batch %d: %w", epoch, batch, err))
			}

			t.phase.Store(int32(PhaseWeightUpdate))
			t.mu.Lock()
			if t.beforeUpdate != nil {
				t.beforeUpdate(epoch, batch, t.net)
			}
			applyUpdate(t.net, grads, velocity, end-start, cfg)
			if err := t.net.CheckFinite(); err != nil {
				restoreErr := t.net.Restore(checkpoint)
				t.mu.Unlock()
				t.logger.Error("training diverged, rolled back to checkpoint", "epoch", epoch, "batch", batch, "error", err)
				return finish(errors.Join(&DivergenceError{Epoch: epoch, Batch: batch, Cause: err}, restoreErr))
			}
			t.mu.Unlock()
			batch++
		}

		t.mu.RLock()
		metrics, err := evaluate(t.net, samples, cfg)
		t.mu.RUnlock()
		if err != nil {
			return finish(fmt.Errorf("epoch %d evaluation: %w", epoch, err))
		}
		metrics.Epoch = epoch
		metrics.EpochTime = time.Since(epochStart)
		result.Metrics = append(result.Metrics, metrics)

		t.logger.Debug("epoch completed",
			"epoch", epoch,
			"loss", metrics.Loss,
			"accuracy", metrics.Accuracy,
			"epoch_time", metrics.EpochTime,
		)
	}

	final, _ := result.Final()
	t.logger.Info("training completed",
		"epochs", len(result.Metrics),
		"loss", final.Loss,
		"accuracy", final.Accuracy,
		"f1", final.F1,
		"duration", time.Since(started),
	)
	return finish(nil)
}

// batchGradients sums per-sample gradients over the batch. With more than one
// worker the batch is split into contiguous chunks whose partial sums are
// added in chunk order.
func (t *Trainer) batchGradients(data []Sample, batch []int, workers int) (nn.Gradients, error) {
	if workers > len(batch) {
		workers = len(batch)
	}
	if workers <= 1 {
		acc := t.net.NewGradients()
		return acc, t.accumulate(data, batch, acc)
	}

	chunk := (len(batch) + workers - 1) / workers
	partials := make([]nn.Gradients, 0, workers)
	var g errgroup.Group
	for start := 0; start < len(batch); start += chunk {
		part := batch[start:min(start+chunk, len(batch))]
		acc := t.net.NewGradients()
		partials = append(partials, acc)
		g.Go(func() error {
			return t.accumulate(data, part, acc)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := partials[0]
	for _, partial := range partials[1:] {
		for i := range total {
			total[i].Weights.Add(total[i].Weights, partial[i].Weights)
			total[i].Biases.AddVec(total[i].Biases, partial[i].Biases)
		}
	}
	return total, nil
}

func (t *Trainer) accumulate(data []Sample, indices []int, acc nn.Gradients) error {
	lossGrad := make([]float64, model.ESGOutputs)
	for _, idx := range indices {
		s := data[idx]
		t.phase.Store(int32(PhaseForwardPass))
		out, trace, err := t.net.Forward(s.Input)
		if err != nil {
			return err
		}
		t.phase.Store(int32(PhaseLossComputation))
		if _, err := nn.SquaredError(out, s.Target, lossGrad); err != nil {
			return err
		}
		t.phase.Store(int32(PhaseBackwardPass))
		if err := t.net.BackwardInto(trace, lossGrad, acc); err != nil {
			return err
		}
	}
	return nil
}

// newVelocity allocates zeroed momentum buffers shaped like the parameters.
func newVelocity(net *nn.Network) []nn.ParameterView {
	views := net.ParameterViews()
	velocity := make([]nn.ParameterView, len(views))
	for i, view := range views {
		velocity[i] = nn.ParameterView{
			Weights: make([]float64, len(view.Weights)),
			Biases:  make([]float64, len(view.Biases)),
		}
	}
	return velocity
}

// applyUpdate averages the summed gradients over n samples and applies
//
//	v = momentum·v − lr·g
//	w += v
//
// to every weight and bias. Weight decay adds decay·w to weight gradients.
func applyUpdate(net *nn.Network, grads nn.Gradients, velocity []nn.ParameterView, n int, cfg Config) {
	scale := 1 / float64(n)
	for li, view := range net.ParameterViews() {
		gw := grads[li].Weights.RawMatrix().Data
		vw := velocity[li].Weights
		for i := range view.Weights {
			g := gw[i]*scale + cfg.WeightDecay*view.Weights[i]
			vw[i] = cfg.Momentum*vw[i] - cfg.LearningRate*g
			view.Weights[i] += vw[i]
		}
		gb := grads[li].Biases.RawVector().Data
		vb := velocity[li].Biases
		for i := range view.Biases {
			vb[i] = cfg.Momentum*vb[i] - cfg.LearningRate*gb[i]*scale
			view.Biases[i] += vb[i]
		}
	}
}

// evaluate scores the network on samples without touching its parameters.
func evaluate(net *nn.Network, samples []Sample, cfg Config) (model.TrainingMetrics, error) {
	var (
		loss                float64
		correct, tp, fp, fn int
		forward             time.Duration
	)
	grad := make([]float64, model.ESGOutputs)
	for _, s := range samples {
		start := time.Now()
		out, _, err := net.Forward(s.Input)
		forward += time.Since(start)
		if err != nil {
			return model.TrainingMetrics{}, err
		}
		l, err := nn.SquaredError(out, s.Target, grad)
		if err != nil {
			return model.TrainingMetrics{}, err
		}
		loss += l

		predicted, want := out[totalIndex], s.Target[totalIndex]
		if math.Abs(predicted-want) <= cfg.Tolerance {
			correct++
		}
		predictedPositive := predicted >= cfg.PositiveThreshold
		wantPositive := want >= cfg.PositiveThreshold
		switch {
		case predictedPositive && wantPositive:
			tp++
		case predictedPositive:
			fp++
		case wantPositive:
			fn++
		}
	}

	n := float64(len(samples))
	metrics := model.TrainingMetrics{
		Accuracy:      float64(correct) / n,
		Loss:          loss / n,
		InferenceTime: forward / time.Duration(len(samples)),
	}
	if tp+fp > 0 {
		metrics.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		metrics.Recall = float64(tp) / float64(tp+fn)
	}
	if metrics.Precision+metrics.Recall > 0 {
		metrics.F1 = 2 * metrics.Precision * metrics.Recall / (metrics.Precision + metrics.Recall)
	}
	return metrics, nil
}
