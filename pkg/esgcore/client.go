package esgcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"esgcore/internal/config"
	"esgcore/internal/model"
	"esgcore/internal/platform"
	"esgcore/internal/stats"
	"esgcore/internal/storage"
	"esgcore/internal/tuning"
)

const (
	defaultExportsDir = "exports"
	defaultRunsLimit  = 20
)

type Options struct {
	Config     config.Config
	ExportsDir string
	Logger     *slog.Logger
}

type Client struct {
	engine *platform.Engine
	logger *slog.Logger

	artifactsDir string
	exportsDir   string
}

type TrainRequest struct {
	Records []model.LabeledRecord
	// Zero values keep the engine's configuration.
	Epochs       int
	BatchSize    int
	LearningRate float64
	Workers      int
	Seed         int64
}

type TrainSummary struct {
	RunID        string
	NetworkID    string
	Status       model.RunStatus
	Epochs       int
	Final        model.TrainingMetrics
	Duration     time.Duration
	ArtifactsDir string
}

type OptimizeSummary struct {
	Findings              []tuning.Finding
	Actions               []model.OptimizationAction
	Applied               int
	ImprovementPercentage float64
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID         string
	NetworkID     string
	Status        model.RunStatus
	StartedAtUTC  string
	Samples       int
	Epochs        int
	FinalLoss     float64
	FinalAccuracy float64
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg.Store.Kind == "" {
		cfg.Store.Kind = storage.DefaultStoreKind()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	topology, err := cfg.Topology(1)
	if err != nil {
		return nil, err
	}
	redis := storage.DefaultRedisOptions()
	redis.Address = cfg.Store.RedisAddress
	redis.Password = cfg.Store.RedisPassword
	redis.DB = cfg.Store.RedisDB
	if cfg.Store.RedisPrefix != "" {
		redis.Prefix = cfg.Store.RedisPrefix
	}
	store, err := storage.NewStore(storage.Options{
		Kind:       cfg.Store.Kind,
		SQLitePath: cfg.Store.SQLitePath,
		Redis:      redis,
		Retries:    cfg.Store.Retries,
		RetryBase:  cfg.Store.RetryBase,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	engine, err := platform.New(platform.Config{
		Store:            store,
		Encoder:          cfg.Encoder,
		Hidden:           topology.Hidden,
		Output:           topology.Output,
		Seed:             cfg.Network.Seed,
		Train:            cfg.Train,
		Optimizer:        cfg.Optimizer,
		InferenceTimeout: cfg.Inference.Timeout,
		CacheTTL:         cfg.Inference.CacheTTL,
		ResumeLatest:     true,
		Logger:           logger,
	})
	if err != nil {
		_ = storage.CloseIfSupported(store)
		return nil, err
	}

	return &Client{
		engine:       engine,
		logger:       logger,
		artifactsDir: cfg.ArtifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Init(ctx context.Context) error {
	return c.engine.Init(ctx)
}

func (c *Client) Close() error {
	return c.engine.Close()
}

func (c *Client) Engine() *platform.Engine {
	return c.engine
}

func (c *Client) Status() platform.EngineStatus {
	return c.engine.Status()
}

// Train runs one training session, persists it, and writes its artifacts.
// The summary is filled in even when the run is cancelled or diverges.
func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	if len(req.Records) == 0 {
		return TrainSummary{}, errors.New("train requires at least one labeled record")
	}
	cfg := c.engine.Config()
	if req.Epochs > 0 {
		cfg.Epochs = req.Epochs
	}
	if req.BatchSize > 0 {
		cfg.BatchSize = req.BatchSize
	}
	if req.LearningRate > 0 {
		cfg.LearningRate = req.LearningRate
	}
	if req.Workers > 0 {
		cfg.Workers = req.Workers
	}
	if req.Seed != 0 {
		cfg.Seed = req.Seed
	}

	started := time.Now()
	run, trainErr := c.engine.Train(ctx, req.Records, &cfg)
	if run.ID == "" {
		return TrainSummary{}, trainErr
	}
	summary := TrainSummary{
		RunID:     run.ID,
		NetworkID: run.NetworkID,
		Status:    run.Status,
		Epochs:    len(run.Metrics),
		Duration:  time.Since(started),
	}
	if n := len(run.Metrics); n > 0 {
		summary.Final = run.Metrics[n-1]
	}

	if c.artifactsDir != "" {
		dir, err := c.writeArtifacts(context.WithoutCancel(ctx), run)
		if err != nil {
			return summary, errors.Join(trainErr, fmt.Errorf("write run artifacts: %w", err))
		}
		summary.ArtifactsDir = dir
	}
	return summary, trainErr
}

func (c *Client) writeArtifacts(ctx context.Context, run model.TrainingRun) (string, error) {
	actions, err := c.engine.Actions(ctx, 0)
	if err != nil {
		return "", err
	}
	artifacts := stats.RunArtifacts{Run: run, Actions: actions}
	if len(run.Metrics) > 0 {
		snap := c.engine.Snapshot()
		artifacts.Network = &snap
	}
	dir, err := stats.WriteRunArtifacts(c.artifactsDir, artifacts)
	if err != nil {
		return "", err
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.IndexEntry(run)); err != nil {
		return "", err
	}
	return filepath.Clean(dir), nil
}

func (c *Client) Predict(ctx context.Context, records []model.TrainingRecord, timeout time.Duration) ([]model.ESGScore, error) {
	return c.engine.PredictBatch(ctx, records, timeout)
}

func (c *Client) Optimize(ctx context.Context) (OptimizeSummary, error) {
	report, err := c.engine.Optimize(ctx)
	return OptimizeSummary{
		Findings:              report.Analysis.Findings,
		Actions:               report.Actions,
		Applied:               report.Applied,
		ImprovementPercentage: report.ImprovementPercentage,
	}, err
}

// ApplyTopology approves a topology change. A nil hidden applies the
// pending proposal.
func (c *Client) ApplyTopology(ctx context.Context, hidden []int, approvedBy string) (model.OptimizationAction, error) {
	if approvedBy == "" {
		return model.OptimizationAction{}, errors.New("topology changes require an approver")
	}
	return c.engine.ApplyTopology(ctx, hidden, approvedBy)
}

// Runs lists recent runs from the artifact index, newest first. Without an
// artifacts directory the store is listed instead.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	if req.Limit == 0 {
		req.Limit = defaultRunsLimit
	}

	var entries []stats.RunIndexEntry
	if c.artifactsDir != "" {
		indexed, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return nil, err
		}
		entries = indexed
	} else {
		runs, err := c.engine.Runs(ctx, req.Limit)
		if err != nil {
			return nil, err
		}
		for _, run := range runs {
			entries = append(entries, stats.IndexEntry(run))
		}
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:         e.RunID,
			NetworkID:     e.NetworkID,
			Status:        model.RunStatus(e.Status),
			StartedAtUTC:  e.CreatedAtUTC,
			Samples:       e.Samples,
			Epochs:        e.Epochs,
			FinalLoss:     e.FinalLoss,
			FinalAccuracy: e.FinalAccuracy,
		})
	}
	return out, nil
}

// ObserveRun feeds the metrics of a recorded run to the optimizer window. An
// empty runID selects the latest run. Runs missing from the store are read
// from their artifacts.
func (c *Client) ObserveRun(ctx context.Context, runID string) (int, error) {
	if runID == "" {
		runs, err := c.Runs(ctx, RunsRequest{Limit: 1})
		if err != nil {
			return 0, err
		}
		if len(runs) == 0 {
			return 0, errors.New("no runs available to observe")
		}
		runID = runs[0].RunID
	}

	run, ok, err := c.engine.Run(ctx, runID)
	if err != nil {
		return 0, err
	}
	metrics := run.Metrics
	if !ok {
		if c.artifactsDir == "" {
			return 0, fmt.Errorf("run not found: %s", runID)
		}
		stored, found, err := stats.ReadMetrics(c.artifactsDir, runID)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, fmt.Errorf("run not found: %s", runID)
		}
		metrics = stored
	}
	c.engine.Optimizer().Observe(metrics...)
	return len(metrics), nil
}

func (c *Client) Run(ctx context.Context, runID string) (model.TrainingRun, stats.MetricsSummary, error) {
	run, ok, err := c.engine.Run(ctx, runID)
	if err != nil {
		return model.TrainingRun{}, stats.MetricsSummary{}, err
	}
	if !ok {
		return model.TrainingRun{}, stats.MetricsSummary{}, fmt.Errorf("run not found: %s", runID)
	}
	return run, stats.Summarize(run.Metrics), nil
}

func (c *Client) Actions(ctx context.Context, limit int) ([]model.OptimizationAction, error) {
	if limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	return c.engine.Actions(ctx, limit)
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(entries) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = entries[0].RunID
	}

	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// Serialize returns the current network as a versioned JSON document.
func (c *Client) Serialize() ([]byte, error) {
	return c.engine.Serialize()
}

func (c *Client) Deserialize(data []byte) error {
	return c.engine.Deserialize(data)
}

func (c *Client) SaveNetworkFile(path string) error {
	data, err := c.Serialize()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Client) LoadNetworkFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.Deserialize(data)
}
