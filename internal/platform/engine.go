package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"esgcore/internal/features"
	"esgcore/internal/model"
	"esgcore/internal/nn"
	"esgcore/internal/score"
	"esgcore/internal/storage"
	"esgcore/internal/train"
	"esgcore/internal/tuning"
)

const DefaultHistorySize = 1000

type Config struct {
	Store   storage.Store
	Encoder model.EncoderSpec
	Hidden  []nn.LayerSpec
	Output  nn.Activation
	// Seed drives weight initialization for new networks.
	Seed      int64
	Train     train.Config
	Optimizer tuning.Config
	// InferenceTimeout applies when Predict is called without a timeout.
	// Zero means unbounded.
	InferenceTimeout time.Duration
	CacheTTL         time.Duration
	HistorySize      int
	// ResumeLatest makes Init install the most recent stored network.
	ResumeLatest bool
	Logger       *slog.Logger
}

// Engine ties the encoder, network, trainer, interpreter and self optimizer
// together behind one lock discipline: inference reads the network under mu,
// weight updates and configuration changes write it.
type Engine struct {
	store  storage.Store
	logger *slog.Logger
	cfg    Config
	now    func() time.Time

	mu sync.RWMutex

	stateMu    sync.RWMutex
	net        *nn.Network
	encoder    *features.Encoder
	trainer    *train.Trainer
	networkID  string
	generation uint64

	busy       atomic.Bool
	optimizer  *tuning.Optimizer
	cache      *scoreCache
	supervisor *Supervisor

	historyMu sync.Mutex
	history   []model.TrainingMetrics
}

type EngineStatus struct {
	NetworkID      string       `json:"network_id"`
	Generation     uint64       `json:"generation"`
	Topology       nn.Topology  `json:"-"`
	Hidden         []int        `json:"hidden"`
	Parameters     int          `json:"parameters"`
	TrainerState   string       `json:"trainer_state"`
	TrainerPhase   string       `json:"trainer_phase"`
	OptimizerState string       `json:"optimizer_state"`
	CachedScores   int          `json:"cached_scores"`
	Config         train.Config `json:"config"`
}

type engineState struct {
	net        *nn.Network
	encoder    *features.Encoder
	trainer    *train.Trainer
	networkID  string
	generation uint64
}

func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	encoder, err := features.New(cfg.Encoder)
	if err != nil {
		return nil, err
	}
	topology := nn.Topology{Inputs: encoder.Size(), Hidden: cfg.Hidden, Output: cfg.Output}
	net, err := nn.NewNetwork(topology, rand.New(rand.NewSource(cfg.Seed)))
	if err != nil {
		return nil, err
	}
	optimizer, err := tuning.NewOptimizer(cfg.Optimizer, cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		store:      cfg.Store,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
		encoder:    encoder,
		net:        net,
		networkID:  uuid.NewString(),
		optimizer:  optimizer,
		cache:      newScoreCache(cfg.CacheTTL),
		supervisor: NewSupervisor(DefaultSupervisorPolicy(), logger),
	}
	trainer, err := train.New(net, cfg.Train, train.Options{Lock: &e.mu, Logger: logger})
	if err != nil {
		return nil, err
	}
	e.trainer = trainer
	return e, nil
}

func (e *Engine) Init(ctx context.Context) error {
	if err := e.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	if !e.cfg.ResumeLatest {
		return nil
	}
	err := e.LoadNetwork(ctx, "")
	if errors.Is(err, ErrNoNetwork) {
		return nil
	}
	return err
}

func (e *Engine) Close() error {
	e.supervisor.StopAll()
	return storage.CloseIfSupported(e.store)
}

func (e *Engine) Store() storage.Store {
	return e.store
}

func (e *Engine) Optimizer() *tuning.Optimizer {
	return e.optimizer
}

func (e *Engine) current() engineState {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return engineState{
		net:        e.net,
		encoder:    e.encoder,
		trainer:    e.trainer,
		networkID:  e.networkID,
		generation: e.generation,
	}
}

func (e *Engine) Encoder() *features.Encoder {
	return e.current().encoder
}

func (e *Engine) NetworkID() string {
	return e.current().networkID
}

// Config returns the trainer configuration used by runs that do not bring
// their own.
func (e *Engine) Config() train.Config {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.trainer.Config()
}

func (e *Engine) UpdateConfig(fn func(*train.Config) error) error {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	if err := e.trainer.UpdateConfig(fn); err != nil {
		return err
	}
	e.logger.Debug("trainer configuration updated")
	return nil
}

func (e *Engine) Topology() nn.Topology {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.trainer.Topology()
}

func (e *Engine) Status() EngineStatus {
	cur := e.current()
	topology := e.Topology()
	hidden := make([]int, len(topology.Hidden))
	for i, h := range topology.Hidden {
		hidden[i] = h.Size
	}
	return EngineStatus{
		NetworkID:      cur.networkID,
		Generation:     cur.generation,
		Topology:       topology,
		Hidden:         hidden,
		Parameters:     cur.net.ParameterCount(),
		TrainerState:   cur.trainer.State().String(),
		TrainerPhase:   cur.trainer.Phase().String(),
		OptimizerState: e.optimizer.State().String(),
		CachedScores:   e.cache.len(),
		Config:         e.Config(),
	}
}

// Predict scores one record. A non-positive timeout falls back to the
// configured inference timeout.
func (e *Engine) Predict(ctx context.Context, record model.TrainingRecord, timeout time.Duration) (model.ESGScore, error) {
	scores, err := e.PredictBatch(ctx, []model.TrainingRecord{record}, timeout)
	if err != nil {
		return model.ESGScore{}, err
	}
	return scores[0], nil
}

// PredictBatch scores records against one consistent view of the network.
// When the timeout expires first it returns an InferenceTimeoutError; the
// abandoned computation only reads.
func (e *Engine) PredictBatch(ctx context.Context, records []model.TrainingRecord, timeout time.Duration) ([]model.ESGScore, error) {
	if len(records) == 0 {
		return []model.ESGScore{}, nil
	}
	if timeout <= 0 {
		timeout = e.cfg.InferenceTimeout
	}
	cur := e.current()

	vectors := make([][]float64, len(records))
	substituted := 0
	for i, record := range records {
		vector, issues := cur.encoder.EncodeChecked(record)
		vectors[i] = vector
		substituted += len(issues)
		for _, issue := range issues {
			e.logger.Debug("record field substituted", "record", issue.RecordID, "field", issue.Field, "reason", issue.Reason)
		}
	}
	if substituted > 0 {
		e.logger.Warn("records encoded with substitutions", "records", len(records), "issues", substituted)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		scores []model.ESGScore
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		scores, err := e.infer(cur, vectors)
		done <- outcome{scores: scores, err: err}
	}()

	select {
	case out := <-done:
		return out.scores, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			e.logger.Warn("inference timed out", "records", len(records), "timeout", timeout)
			return nil, &InferenceTimeoutError{Timeout: timeout, Records: len(records)}
		}
		return nil, ctx.Err()
	}
}

func (e *Engine) infer(cur engineState, vectors [][]float64) ([]model.ESGScore, error) {
	useCache := cur.trainer.State() != train.StateTraining
	scores := make([]model.ESGScore, len(vectors))
	keys := make([]string, len(vectors))
	missing := make([]int, 0, len(vectors))
	for i, vector := range vectors {
		if useCache {
			keys[i] = cacheKey(cur.generation, vector)
			if s, ok := e.cache.get(keys[i]); ok {
				scores[i] = s
				continue
			}
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return scores, nil
	}

	e.mu.RLock()
	for _, i := range missing {
		out, _, err := cur.net.Forward(vectors[i])
		if err != nil {
			e.mu.RUnlock()
			return nil, fmt.Errorf("forward record %d: %w", i, err)
		}
		s, err := score.Interpret(out)
		if err != nil {
			e.mu.RUnlock()
			return nil, err
		}
		scores[i] = s
	}
	e.mu.RUnlock()

	if useCache {
		for _, i := range missing {
			e.cache.set(keys[i], scores[i])
		}
	}
	return scores, nil
}

// Train fits the current network on records. A nil cfg uses the engine's
// trainer configuration. The run is persisted whatever its outcome, and the
// resulting network whenever at least one epoch completed.
func (e *Engine) Train(ctx context.Context, records []model.LabeledRecord, cfg *train.Config) (model.TrainingRun, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return model.TrainingRun{}, train.ErrTrainingInProgress
	}
	defer e.busy.Store(false)

	cur := e.current()
	samples, issues := train.EncodeSamples(cur.encoder, records)
	if len(issues) > 0 {
		e.logger.Warn("training records encoded with substitutions", "records", len(records), "issues", len(issues))
	}
	runCfg := e.Config()
	if cfg != nil {
		runCfg = *cfg
	}

	run := model.TrainingRun{
		VersionedRecord: model.CurrentVersion(),
		ID:              uuid.NewString(),
		NetworkID:       cur.networkID,
		StartedAt:       e.now().UTC(),
		Samples:         len(records),
		Config:          runCfg.Map(),
	}
	result, trainErr := cur.trainer.Train(ctx, samples, runCfg)
	run.FinishedAt = e.now().UTC()
	run.Metrics = result.Metrics
	run.Status = runStatus(trainErr)
	if trainErr != nil {
		run.Error = trainErr.Error()
	}

	// Scores cached while the run was starting may reflect weights that
	// were rolled back.
	e.cache.flush()

	persistCtx := context.WithoutCancel(ctx)
	var persistErr error
	if len(result.Metrics) > 0 {
		e.stateMu.Lock()
		e.generation++
		e.networkID = uuid.NewString()
		run.NetworkID = e.networkID
		e.stateMu.Unlock()

		e.recordMetrics(result.Metrics)
		e.optimizer.Observe(result.Metrics...)

		if err := e.store.SaveNetwork(persistCtx, e.Snapshot()); err != nil {
			persistErr = fmt.Errorf("save network: %w", err)
		}
	}
	if err := e.store.SaveRun(persistCtx, run); err != nil {
		persistErr = errors.Join(persistErr, fmt.Errorf("save run: %w", err))
	}

	e.logger.Info("training run recorded",
		"run", run.ID,
		"network", run.NetworkID,
		"status", run.Status,
		"epochs", len(run.Metrics),
	)
	return run, errors.Join(trainErr, persistErr)
}

func runStatus(err error) model.RunStatus {
	var divergence *train.DivergenceError
	switch {
	case err == nil:
		return model.RunStatusCompleted
	case errors.Is(err, train.ErrCancelled):
		return model.RunStatusCancelled
	case errors.As(err, &divergence):
		return model.RunStatusDiverged
	default:
		return model.RunStatusFailed
	}
}

func (e *Engine) recordMetrics(metrics []model.TrainingMetrics) {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	e.history = append(e.history, metrics...)
	if over := len(e.history) - e.cfg.HistorySize; over > 0 {
		e.history = append([]model.TrainingMetrics(nil), e.history[over:]...)
	}
}

// RecentMetrics returns up to n of the latest epoch metrics, oldest first.
func (e *Engine) RecentMetrics(n int) []model.TrainingMetrics {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	start := 0
	if n > 0 && len(e.history) > n {
		start = len(e.history) - n
	}
	return append([]model.TrainingMetrics(nil), e.history[start:]...)
}

// Optimize runs one self-optimization cycle against the trainer
// configuration.
func (e *Engine) Optimize(ctx context.Context) (tuning.Report, error) {
	return e.optimizer.Optimize(ctx, e)
}

// RunOptimizer optimizes every interval from the engine's own metric history
// until ctx is done.
func (e *Engine) RunOptimizer(ctx context.Context, interval time.Duration) error {
	return e.optimizer.Run(ctx, interval, e, e)
}

// StartOptimizerLoop runs RunOptimizer as a supervised background task,
// restarted with backoff if it fails.
func (e *Engine) StartOptimizerLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return model.Misconfigured("optimizer.interval", "must be > 0, got %s", interval)
	}
	return e.supervisor.Start(ctx, "optimizer", RestartTransient, func(ctx context.Context) error {
		return e.RunOptimizer(ctx, interval)
	})
}

func (e *Engine) StopBackground() {
	e.supervisor.StopAll()
}

func (e *Engine) BackgroundTasks() []TaskStatus {
	return e.supervisor.Tasks()
}

// ApplyTopology replaces the network with a freshly initialized one of the
// given hidden sizes. A nil hidden applies the pending proposal. The new
// network starts untrained.
func (e *Engine) ApplyTopology(ctx context.Context, hidden []int, approvedBy string) (model.OptimizationAction, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return model.OptimizationAction{}, train.ErrTrainingInProgress
	}
	defer e.busy.Store(false)

	pending, hasPending := e.optimizer.PendingTopology()
	bottleneck := "manual"
	if hasPending {
		bottleneck = pending.Bottleneck
	}
	if hidden == nil {
		if !hasPending {
			return model.OptimizationAction{}, ErrNoPendingTopology
		}
		hidden = pending.ProposedHidden
	}

	old := e.Topology()
	specs := make([]nn.LayerSpec, len(hidden))
	for i, size := range hidden {
		activation := nn.ReLU
		if n := len(old.Hidden); n > 0 {
			activation = old.Hidden[min(i, n-1)].Activation
		}
		specs[i] = nn.LayerSpec{Size: size, Activation: activation}
	}
	topology := nn.Topology{Inputs: old.Inputs, Hidden: specs, Output: old.Output}
	net, err := nn.NewNetwork(topology, rand.New(rand.NewSource(e.cfg.Seed)))
	if err != nil {
		return model.OptimizationAction{}, err
	}
	encoder := e.Encoder()
	if err := e.install(net, encoder, uuid.NewString()); err != nil {
		return model.OptimizationAction{}, err
	}

	action := model.OptimizationAction{
		VersionedRecord: model.CurrentVersion(),
		ID:              uuid.NewString(),
		Bottleneck:      bottleneck,
		Parameter:       tuning.TopologyReductionPolicy{}.Name(),
		OldValue:        float64(hiddenNeurons(old)),
		NewValue:        float64(hiddenNeurons(topology)),
		ProposedHidden:  append([]int(nil), hidden...),
		Status:          model.ActionApplied,
		Reason:          fmt.Sprintf("approved by %s", approvedBy),
		CreatedAt:       e.now().UTC(),
	}
	e.optimizer.ClearPending()

	var persistErr error
	if err := e.store.SaveNetwork(ctx, e.Snapshot()); err != nil {
		persistErr = fmt.Errorf("save network: %w", err)
	}
	if err := e.store.AppendActions(ctx, []model.OptimizationAction{action}); err != nil {
		persistErr = errors.Join(persistErr, fmt.Errorf("record topology action: %w", err))
	}
	e.logger.Info("topology applied", "hidden", hidden, "approved_by", approvedBy)
	return action, persistErr
}

func hiddenNeurons(t nn.Topology) int {
	total := 0
	for _, h := range t.Hidden {
		total += h.Size
	}
	return total
}

// install swaps in a new network with a trainer that keeps the current
// configuration. Callers hold busy.
func (e *Engine) install(net *nn.Network, encoder *features.Encoder, networkID string) error {
	if encoder.Size() != net.Inputs() {
		return model.Misconfigured("network.inputs", "network expects %d inputs, encoder produces %d", net.Inputs(), encoder.Size())
	}
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	trainer, err := train.New(net, e.trainer.Config(), train.Options{Lock: &e.mu, Logger: e.logger})
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.net = net
	e.mu.Unlock()
	e.encoder = encoder
	e.trainer = trainer
	e.networkID = networkID
	e.generation++
	e.cache.flush()
	return nil
}

// Snapshot captures the current network with its encoder layout.
func (e *Engine) Snapshot() model.NetworkSnapshot {
	cur := e.current()
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cur.net.Snapshot(cur.networkID, cur.encoder.Spec(), e.now())
}

// Serialize returns the current network as a versioned JSON document.
func (e *Engine) Serialize() ([]byte, error) {
	return storage.EncodeNetwork(e.Snapshot())
}

// Deserialize installs a network produced by Serialize. Nothing changes
// when the document is rejected.
func (e *Engine) Deserialize(data []byte) error {
	snap, err := storage.DecodeNetwork(data)
	if err != nil {
		return err
	}
	return e.installSnapshot(snap)
}

// LoadNetwork installs a stored network; an empty id selects the latest.
func (e *Engine) LoadNetwork(ctx context.Context, id string) error {
	var (
		snap model.NetworkSnapshot
		ok   bool
		err  error
	)
	if id == "" {
		snap, ok, err = e.store.LatestNetwork(ctx)
	} else {
		snap, ok, err = e.store.GetNetwork(ctx, id)
	}
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoNetwork, id)
	}
	return e.installSnapshot(snap)
}

func (e *Engine) installSnapshot(snap model.NetworkSnapshot) error {
	if !e.busy.CompareAndSwap(false, true) {
		return train.ErrTrainingInProgress
	}
	defer e.busy.Store(false)

	net, err := nn.FromSnapshot(snap)
	if err != nil {
		return err
	}
	encoder, err := features.New(snap.Encoder)
	if err != nil {
		return err
	}
	if err := e.install(net, encoder, snap.ID); err != nil {
		return err
	}
	e.logger.Info("network loaded", "network", snap.ID, "parameters", net.ParameterCount())
	return nil
}

func (e *Engine) Runs(ctx context.Context, limit int) ([]model.TrainingRun, error) {
	return e.store.ListRuns(ctx, limit)
}

func (e *Engine) Run(ctx context.Context, id string) (model.TrainingRun, bool, error) {
	return e.store.GetRun(ctx, id)
}

func (e *Engine) Actions(ctx context.Context, limit int) ([]model.OptimizationAction, error) {
	return e.store.ListActions(ctx, limit)
}
