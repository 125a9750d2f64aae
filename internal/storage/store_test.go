package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"esgcore/internal/model"
)

func testSnapshot(id string, created time.Time) model.NetworkSnapshot {
	return model.NetworkSnapshot{
		VersionedRecord: model.CurrentVersion(),
		ID:              id,
		CreatedAt:       created,
		Topology: []model.LayerTopology{
			{Inputs: 2, Outputs: 1, Activation: "tanh"},
			{Inputs: 1, Outputs: 5, Activation: "linear"},
		},
		Parameters: []model.LayerParameters{
			{Weights: []float64{0.25, -0.5}, Biases: []float64{0.1}},
			{Weights: []float64{1, 2, 3, 4, 5}, Biases: []float64{0, 0, 0, 0, 0}},
		},
		Encoder: model.EncoderSpec{FeatureVersion: 1, Categories: []string{"A"}, Regions: []string{"SP"}, AmountScale: 1000},
	}
}

func testRun(id string, started time.Time) model.TrainingRun {
	return model.TrainingRun{
		VersionedRecord: model.CurrentVersion(),
		ID:              id,
		NetworkID:       "net-" + id,
		StartedAt:       started,
		FinishedAt:      started.Add(time.Minute),
		Status:          model.RunStatusCompleted,
		Samples:         4,
		Metrics:         []model.TrainingMetrics{{Epoch: 1, Accuracy: 0.5, Loss: 0.2, EpochTime: time.Second}},
	}
}

func testAction(i int) model.OptimizationAction {
	return model.OptimizationAction{
		VersionedRecord: model.CurrentVersion(),
		ID:              fmt.Sprintf("action-%d", i),
		Bottleneck:      "training_time",
		Parameter:       "batch_size",
		OldValue:        float64(int(32) << i),
		NewValue:        float64(int(64) << i),
		ExpectedGain:    0.3,
		Status:          model.ActionApplied,
		CreatedAt:       time.Unix(int64(1000+i), 0).UTC(),
	}
}

// exerciseStore runs the behaviour every backend must share against an
// initialized, empty store.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, ok, err := store.LatestNetwork(ctx); err != nil || ok {
		t.Fatalf("expected no latest network: ok=%t err=%v", ok, err)
	}

	older := testSnapshot("net-old", base)
	newer := testSnapshot("net-new", base.Add(time.Hour))
	for _, snap := range []model.NetworkSnapshot{newer, older} {
		if err := store.SaveNetwork(ctx, snap); err != nil {
			t.Fatalf("save network %s: %v", snap.ID, err)
		}
	}
	loaded, ok, err := store.GetNetwork(ctx, "net-old")
	if err != nil || !ok {
		t.Fatalf("get network: ok=%t err=%v", ok, err)
	}
	if loaded.Parameters[0].Weights[1] != -0.5 || loaded.Encoder.Categories[0] != "A" {
		t.Fatalf("unexpected network loaded: %+v", loaded)
	}
	latest, ok, err := store.LatestNetwork(ctx)
	if err != nil || !ok || latest.ID != "net-new" {
		t.Fatalf("expected net-new as latest, got %q ok=%t err=%v", latest.ID, ok, err)
	}
	if _, ok, err := store.GetNetwork(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing network: ok=%t err=%v", ok, err)
	}

	for i := 0; i < 3; i++ {
		if err := store.SaveRun(ctx, testRun(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("save run: %v", err)
		}
	}
	run, ok, err := store.GetRun(ctx, "run-1")
	if err != nil || !ok || len(run.Metrics) != 1 || run.Status != model.RunStatusCompleted {
		t.Fatalf("unexpected run: %+v ok=%t err=%v", run, ok, err)
	}
	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-2" || runs[1].ID != "run-1" {
		t.Fatalf("expected newest runs first, got %+v", runs)
	}
	all, err := store.ListRuns(ctx, 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("expected all runs, got %d err=%v", len(all), err)
	}

	if err := store.AppendActions(ctx, []model.OptimizationAction{testAction(0), testAction(1)}); err != nil {
		t.Fatalf("append actions: %v", err)
	}
	if err := store.AppendActions(ctx, []model.OptimizationAction{testAction(2)}); err != nil {
		t.Fatalf("append actions: %v", err)
	}
	actions, err := store.ListActions(ctx, 2)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(actions) != 2 || actions[0].ID != "action-1" || actions[1].ID != "action-2" {
		t.Fatalf("expected the two most recent actions in append order, got %+v", actions)
	}
	actions, err = store.ListActions(ctx, 0)
	if err != nil || len(actions) != 3 {
		t.Fatalf("expected all actions, got %d err=%v", len(actions), err)
	}
}
