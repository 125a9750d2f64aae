package train

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"esgcore/internal/features"
	"esgcore/internal/model"
	"esgcore/internal/nn"
)

func categoryRecords(t *testing.T) (*features.Encoder, []model.LabeledRecord) {
	t.Helper()
	spec := features.DefaultSpec()
	spec.Categories = []string{"A", "B"}
	enc, err := features.New(spec)
	if err != nil {
		t.Fatalf("new encoder: %v", err)
	}
	issued := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	record := func(id, category string) model.TrainingRecord {
		return model.TrainingRecord{
			ID:           id,
			Amount:       500,
			Category:     category,
			Municipality: "Campinas",
			Region:       "SP",
			CounterpartA: "alice",
			CounterpartB: "bob",
			IssuedAt:     issued,
			Verified:     true,
		}
	}
	targetA := model.ESGScore{Environmental: 0.8, Social: 0.6, Governance: 0.7, Total: 0.9, Confidence: 0.9}
	targetB := model.ESGScore{Environmental: 0.3, Social: 0.5, Governance: 0.4, Total: 0.1, Confidence: 0.7}
	return enc, []model.LabeledRecord{
		{Record: record("a1", "A"), Target: targetA},
		{Record: record("b1", "B"), Target: targetB},
		{Record: record("a2", "A"), Target: targetA},
		{Record: record("b2", "B"), Target: targetB},
	}
}

func newTestTrainer(t *testing.T, inputs int, hidden []nn.LayerSpec, seed int64) *Trainer {
	t.Helper()
	net, err := nn.NewNetwork(nn.Topology{Inputs: inputs, Hidden: hidden, Output: nn.Linear}, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	trainer, err := New(net, DefaultConfig(), Options{})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	return trainer
}

// separableSamples maps inputs to targets through a fixed linear rule.
func separableSamples(n, inputs int, seed int64) []Sample {
	rnd := rand.New(rand.NewSource(seed))
	samples := make([]Sample, n)
	for i := range samples {
		input := make([]float64, inputs)
		for j := range input {
			input[j] = rnd.Float64()
		}
		s := 0.0
		for j, v := range input {
			s += v * float64(j+1) / float64(inputs*inputs)
		}
		samples[i] = Sample{Input: input, Target: []float64{s, 1 - s, s / 2, s, 0.5}}
	}
	return samples
}

func TestEndToEndCategoryScoring(t *testing.T) {
	enc, records := categoryRecords(t)
	samples, issues := EncodeSamples(enc, records)
	if len(issues) != 0 {
		t.Fatalf("unexpected encoding issues: %v", issues)
	}
	trainer := newTestTrainer(t, enc.Size(), []nn.LayerSpec{{Size: 2, Activation: nn.Tanh}}, 7)

	cfg := DefaultConfig()
	cfg.Epochs = 1000
	cfg.LearningRate = 0.05
	cfg.BatchSize = 4
	res, err := trainer.Train(context.Background(), samples, cfg)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	final, ok := res.Final()
	if !ok {
		t.Fatal("expected metrics")
	}
	if res.Epochs != 1000 || final.Epoch != 1000 {
		t.Fatalf("unexpected epoch count: result=%d final=%d", res.Epochs, final.Epoch)
	}
	if final.Accuracy < 0.9 {
		t.Fatalf("expected accuracy >= 0.9, got %f (loss %f)", final.Accuracy, final.Loss)
	}
	if trainer.State() != StateIdle || trainer.Phase() != PhaseNone {
		t.Fatalf("trainer not idle after run: %s/%s", trainer.State(), trainer.Phase())
	}
}

func TestTrainingReducesLoss(t *testing.T) {
	samples := separableSamples(32, 6, 3)
	trainer := newTestTrainer(t, 6, []nn.LayerSpec{{Size: 8, Activation: nn.Tanh}}, 3)

	cfg := DefaultConfig()
	cfg.Epochs = 100
	cfg.LearningRate = 0.05
	cfg.BatchSize = 8
	res, err := trainer.Train(context.Background(), samples, cfg)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	first, last := res.Metrics[0].Loss, res.Metrics[len(res.Metrics)-1].Loss
	if !(last < first) {
		t.Fatalf("expected loss to decrease: first=%f last=%f", first, last)
	}
	for _, m := range res.Metrics {
		if m.EpochTime <= 0 {
			t.Fatalf("epoch %d has no epoch time", m.Epoch)
		}
	}
}

func TestTrainingIsDeterministic(t *testing.T) {
	samples := separableSamples(20, 5, 11)
	cfg := DefaultConfig()
	cfg.Epochs = 30
	cfg.BatchSize = 6
	cfg.LearningRate = 0.01
	cfg.AugmentationFactor = 2

	run := func() nn.Checkpoint {
		trainer := newTestTrainer(t, 5, []nn.LayerSpec{{Size: 4, Activation: nn.Sigmoid}}, 99)
		if _, err := trainer.Train(context.Background(), samples, cfg); err != nil {
			t.Fatalf("train: %v", err)
		}
		return trainer.Network().Checkpoint()
	}
	a, b := run(), run()
	for i := range a {
		for j := range a[i].Weights {
			if a[i].Weights[j] != b[i].Weights[j] {
				t.Fatalf("layer %d weight %d differs: %v vs %v", i, j, a[i].Weights[j], b[i].Weights[j])
			}
		}
		for j := range a[i].Biases {
			if a[i].Biases[j] != b[i].Biases[j] {
				t.Fatalf("layer %d bias %d differs", i, j)
			}
		}
	}
}

func TestParallelWorkersMatchSequential(t *testing.T) {
	samples := separableSamples(40, 5, 13)
	cfg := DefaultConfig()
	cfg.Epochs = 20
	cfg.BatchSize = 10
	cfg.LearningRate = 0.01

	run := func(workers int) nn.Checkpoint {
		trainer := newTestTrainer(t, 5, []nn.LayerSpec{{Size: 6, Activation: nn.ReLU}}, 5)
		c := cfg
		c.Workers = workers
		if _, err := trainer.Train(context.Background(), samples, c); err != nil {
			t.Fatalf("train with %d workers: %v", workers, err)
		}
		return trainer.Network().Checkpoint()
	}
	seq, par := run(1), run(4)
	for i := range seq {
		for j := range seq[i].Weights {
			if math.Abs(seq[i].Weights[j]-par[i].Weights[j]) > 1e-9 {
				t.Fatalf("layer %d weight %d: sequential=%v parallel=%v", i, j, seq[i].Weights[j], par[i].Weights[j])
			}
		}
	}
}

func TestDivergenceRollsBackToEpochCheckpoint(t *testing.T) {
	enc, records := categoryRecords(t)
	samples, _ := EncodeSamples(enc, records)
	trainer := newTestTrainer(t, enc.Size(), []nn.LayerSpec{{Size: 3, Activation: nn.Tanh}}, 17)

	var preEpoch nn.Checkpoint
	trainer.beforeUpdate = func(epoch, batch int, net *nn.Network) {
		if epoch == 3 && batch == 0 {
			preEpoch = net.Checkpoint()
			net.ParameterViews()[0].Weights[2] = math.NaN()
		}
	}

	cfg := DefaultConfig()
	cfg.Epochs = 10
	cfg.BatchSize = 4
	res, err := trainer.Train(context.Background(), samples, cfg)
	var divErr *DivergenceError
	if !errors.As(err, &divErr) {
		t.Fatalf("expected DivergenceError, got %v", err)
	}
	if divErr.Epoch != 3 || divErr.Batch != 0 {
		t.Fatalf("unexpected divergence location: %+v", divErr)
	}
	var nonFinite *nn.NonFiniteError
	if !errors.As(err, &nonFinite) {
		t.Fatalf("expected wrapped NonFiniteError, got %v", err)
	}
	if len(res.Metrics) != 2 {
		t.Fatalf("expected metrics for 2 completed epochs, got %d", len(res.Metrics))
	}

	after := trainer.Network().Checkpoint()
	for i := range preEpoch {
		for j := range preEpoch[i].Weights {
			if math.Float64bits(preEpoch[i].Weights[j]) != math.Float64bits(after[i].Weights[j]) {
				t.Fatalf("layer %d weight %d: got %v want %v", i, j, after[i].Weights[j], preEpoch[i].Weights[j])
			}
		}
		for j := range preEpoch[i].Biases {
			if math.Float64bits(preEpoch[i].Biases[j]) != math.Float64bits(after[i].Biases[j]) {
				t.Fatalf("layer %d bias %d not rolled back", i, j)
			}
		}
	}
}

func TestCancellationAtEpochBoundary(t *testing.T) {
	samples := separableSamples(8, 4, 1)
	trainer := newTestTrainer(t, 4, []nn.LayerSpec{{Size: 3, Activation: nn.Tanh}}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	trainer.beforeUpdate = func(epoch, batch int, _ *nn.Network) {
		if epoch == 3 && batch == 0 {
			cancel()
		}
	}

	cfg := DefaultConfig()
	cfg.Epochs = 10
	cfg.BatchSize = 4
	res, err := trainer.Train(ctx, samples, cfg)
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if len(res.Metrics) != 3 {
		t.Fatalf("cancellation must finish the running epoch: got %d epochs", len(res.Metrics))
	}
}

func TestCancelledBeforeStartLeavesNetworkUntouched(t *testing.T) {
	samples := separableSamples(8, 4, 1)
	trainer := newTestTrainer(t, 4, []nn.LayerSpec{{Size: 3, Activation: nn.Tanh}}, 1)
	before := trainer.Network().Checkpoint()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := trainer.Train(ctx, samples, DefaultConfig())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if res.Epochs != 0 {
		t.Fatalf("expected no completed epochs, got %d", res.Epochs)
	}
	after := trainer.Network().Checkpoint()
	for i := range before {
		for j := range before[i].Weights {
			if before[i].Weights[j] != after[i].Weights[j] {
				t.Fatalf("weights changed by a cancelled run")
			}
		}
	}
}

func TestConcurrentTrainRejected(t *testing.T) {
	samples := separableSamples(4, 4, 1)
	trainer := newTestTrainer(t, 4, []nn.LayerSpec{{Size: 2, Activation: nn.Tanh}}, 1)

	var nested error
	trainer.beforeUpdate = func(epoch, batch int, _ *nn.Network) {
		if epoch == 1 && batch == 0 {
			_, nested = trainer.Train(context.Background(), samples, DefaultConfig())
		}
	}
	cfg := DefaultConfig()
	cfg.Epochs = 2
	if _, err := trainer.Train(context.Background(), samples, cfg); err != nil {
		t.Fatalf("train: %v", err)
	}
	if !errors.Is(nested, ErrTrainingInProgress) {
		t.Fatalf("expected ErrTrainingInProgress, got %v", nested)
	}
}

func TestInferenceWaitsForWeightUpdate(t *testing.T) {
	samples := separableSamples(4, 4, 1)
	lock := &sync.RWMutex{}
	net, err := nn.NewNetwork(nn.Topology{Inputs: 4, Hidden: []nn.LayerSpec{{Size: 2, Activation: nn.Tanh}}}, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	trainer, err := New(net, DefaultConfig(), Options{Lock: lock})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}

	readerDone := make(chan struct{})
	trainer.beforeUpdate = func(epoch, batch int, _ *nn.Network) {
		if epoch != 1 || batch != 0 {
			return
		}
		go func() {
			lock.RLock()
			defer lock.RUnlock()
			close(readerDone)
		}()
		select {
		case <-readerDone:
			t.Error("reader acquired the lock during a weight update")
		case <-time.After(20 * time.Millisecond):
		}
	}
	cfg := DefaultConfig()
	cfg.Epochs = 1
	if _, err := trainer.Train(context.Background(), samples, cfg); err != nil {
		t.Fatalf("train: %v", err)
	}
	select {
	case <-readerDone:
	case <-time.After(time.Second):
		t.Fatal("reader never acquired the lock after the update")
	}
}

func TestTrainRejectsBadInput(t *testing.T) {
	trainer := newTestTrainer(t, 4, []nn.LayerSpec{{Size: 2, Activation: nn.Tanh}}, 1)
	if _, err := trainer.Train(context.Background(), nil, DefaultConfig()); !errors.Is(err, ErrNoSamples) {
		t.Fatalf("expected ErrNoSamples, got %v", err)
	}
	bad := []Sample{{Input: []float64{1, 2}, Target: make([]float64, model.ESGOutputs)}}
	if _, err := trainer.Train(context.Background(), bad, DefaultConfig()); !errors.Is(err, nn.ErrInputSize) {
		t.Fatalf("expected ErrInputSize, got %v", err)
	}
	cfg := DefaultConfig()
	cfg.BatchSize = 0
	var cfgErr *model.ConfigurationError
	if _, err := trainer.Train(context.Background(), separableSamples(2, 4, 1), cfg); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestUpdateConfigIsTransactional(t *testing.T) {
	trainer := newTestTrainer(t, 4, []nn.LayerSpec{{Size: 2, Activation: nn.Tanh}}, 1)
	err := trainer.UpdateConfig(func(c *Config) error {
		c.BatchSize = 64
		c.Momentum = 2
		return nil
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if got := trainer.Config().BatchSize; got != DefaultBatchSize {
		t.Fatalf("partial update committed: batch size %d", got)
	}
	if err := trainer.UpdateConfig(func(c *Config) error {
		c.BatchSize *= 2
		return nil
	}); err != nil {
		t.Fatalf("update config: %v", err)
	}
	if got := trainer.Config().BatchSize; got != 2*DefaultBatchSize {
		t.Fatalf("expected doubled batch size, got %d", got)
	}
}

func TestEvaluateClassificationMetrics(t *testing.T) {
	net, err := nn.NewNetwork(nn.Topology{Inputs: 1, Hidden: []nn.LayerSpec{{Size: 1, Activation: nn.Linear}}}, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	// Make total equal the input: hidden = x, total = hidden.
	views := net.ParameterViews()
	views[0].Weights[0] = 1
	for i := range views[1].Weights {
		views[1].Weights[i] = 0
	}
	views[1].Weights[totalIndex] = 1

	target := func(total float64) []float64 { return []float64{0, 0, 0, total, 0} }
	samples := []Sample{
		{Input: []float64{0.9}, Target: target(0.85)}, // tp, accurate
		{Input: []float64{0.7}, Target: target(0.2)},  // fp
		{Input: []float64{0.1}, Target: target(0.6)},  // fn
		{Input: []float64{0.1}, Target: target(0.15)}, // tn, accurate
	}
	metrics, err := evaluate(net, samples, DefaultConfig())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if metrics.Accuracy != 0.5 {
		t.Fatalf("unexpected accuracy: %f", metrics.Accuracy)
	}
	if metrics.Precision != 0.5 || metrics.Recall != 0.5 || metrics.F1 != 0.5 {
		t.Fatalf("unexpected classification metrics: %+v", metrics)
	}
}

func TestAugmentKeepsOriginalsAndZeros(t *testing.T) {
	samples := []Sample{{Input: []float64{1, 0, 2}, Target: []float64{1, 1, 1, 1, 1}}}
	out := augment(rand.New(rand.NewSource(1)), samples, 3, 0.1)
	if len(out) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(out))
	}
	if out[0].Input[0] != 1 || out[0].Input[2] != 2 {
		t.Fatalf("first copy must be the original: %v", out[0].Input)
	}
	for _, s := range out[1:] {
		if s.Input[1] != 0 {
			t.Fatalf("zero feature was jittered: %v", s.Input)
		}
		if math.Abs(s.Input[0]-1) > 0.1+1e-12 || math.Abs(s.Input[2]-2) > 0.2+1e-12 {
			t.Fatalf("jitter out of range: %v", s.Input)
		}
	}
}
