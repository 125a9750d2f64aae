package esgcore

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"esgcore/internal/config"
	"esgcore/internal/dataset"
	"esgcore/internal/logging"
	"esgcore/internal/model"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Store.Kind = "memory"
	cfg.Network.Hidden = []int{6, 3}
	cfg.Train.Epochs = 3
	cfg.Train.BatchSize = 8
	cfg.ArtifactsDir = filepath.Join(base, "runs")
	return Options{
		Config:     cfg,
		ExportsDir: filepath.Join(base, "exports"),
		Logger:     logging.Discard(),
	}
}

func newTestClient(t *testing.T, opts Options) *Client {
	t.Helper()
	client, err := New(opts)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Init(context.Background()); err != nil {
		t.Fatalf("init client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func syntheticRecords(t *testing.T, n int) []model.LabeledRecord {
	t.Helper()
	records, err := dataset.Synthetic(rand.New(rand.NewSource(7)), n)
	if err != nil {
		t.Fatalf("synthetic: %v", err)
	}
	return records
}

func TestClientTrainRunsAndExport(t *testing.T) {
	opts := testOptions(t)
	client := newTestClient(t, opts)
	ctx := context.Background()

	summary, err := client.Train(ctx, TrainRequest{Records: syntheticRecords(t, 32)})
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if summary.RunID == "" || summary.NetworkID == "" {
		t.Fatalf("expected run and network ids: %+v", summary)
	}
	if summary.Status != model.RunStatusCompleted || summary.Epochs != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.ArtifactsDir == "" {
		t.Fatal("expected artifacts dir")
	}

	runs, err := client.Runs(ctx, RunsRequest{Limit: 5})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != summary.RunID {
		t.Fatalf("expected trained run in runs list: %+v", runs)
	}
	if runs[0].Samples != 32 || runs[0].Epochs != 3 {
		t.Fatalf("unexpected run item: %+v", runs[0])
	}

	run, metrics, err := client.Run(ctx, summary.RunID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.ID != summary.RunID || metrics.Epochs != 3 {
		t.Fatalf("unexpected run detail: run=%s epochs=%d", run.ID, metrics.Epochs)
	}

	exported, err := client.Export(ctx, ExportRequest{Latest: true})
	if err != nil {
		t.Fatalf("export latest: %v", err)
	}
	if exported.RunID != summary.RunID {
		t.Fatalf("expected latest run %s, got %s", summary.RunID, exported.RunID)
	}
	if !strings.HasPrefix(exported.Directory, filepath.Clean(opts.ExportsDir)) {
		t.Fatalf("expected export under %s, got %s", opts.ExportsDir, exported.Directory)
	}
	for _, name := range []string{"config.json", "metrics.json", "metrics.csv", "network.json"} {
		if _, err := os.Stat(filepath.Join(exported.Directory, name)); err != nil {
			t.Fatalf("expected exported %s: %v", name, err)
		}
	}
}

func TestClientTrainRequiresRecords(t *testing.T) {
	client := newTestClient(t, testOptions(t))
	if _, err := client.Train(context.Background(), TrainRequest{}); err == nil {
		t.Fatal("expected error for empty training set")
	}
}

func TestClientTrainOverridesEpochs(t *testing.T) {
	client := newTestClient(t, testOptions(t))
	summary, err := client.Train(context.Background(), TrainRequest{Records: syntheticRecords(t, 16), Epochs: 1})
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if summary.Epochs != 1 {
		t.Fatalf("expected one epoch, got %d", summary.Epochs)
	}
	if got := client.Engine().Config().Epochs; got != 3 {
		t.Fatalf("request override leaked into engine config: epochs=%d", got)
	}
}

func TestClientPredictBounded(t *testing.T) {
	client := newTestClient(t, testOptions(t))
	records := syntheticRecords(t, 4)
	inputs := make([]model.TrainingRecord, len(records))
	for i, r := range records {
		inputs[i] = r.Record
	}
	scores, err := client.Predict(context.Background(), inputs, 0)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(scores) != len(inputs) {
		t.Fatalf("expected %d scores, got %d", len(inputs), len(scores))
	}
	for _, s := range scores {
		for _, v := range s.Vector() {
			if v < 0 || v > 1 {
				t.Fatalf("score out of range: %+v", s)
			}
		}
	}
}

func TestClientExportValidation(t *testing.T) {
	client := newTestClient(t, testOptions(t))
	ctx := context.Background()

	if _, err := client.Export(ctx, ExportRequest{RunID: "x", Latest: true}); err == nil {
		t.Fatal("expected error for run id and latest together")
	}
	if _, err := client.Export(ctx, ExportRequest{}); err == nil {
		t.Fatal("expected error without run id or latest")
	}
	if _, err := client.Export(ctx, ExportRequest{Latest: true}); err == nil {
		t.Fatal("expected error with no runs recorded")
	}
}

func TestClientNetworkFileRoundTrip(t *testing.T) {
	opts := testOptions(t)
	client := newTestClient(t, opts)
	ctx := context.Background()
	if _, err := client.Train(ctx, TrainRequest{Records: syntheticRecords(t, 16)}); err != nil {
		t.Fatalf("train: %v", err)
	}
	path := filepath.Join(t.TempDir(), "nets", "network.json")
	if err := client.SaveNetworkFile(path); err != nil {
		t.Fatalf("save network: %v", err)
	}

	other := newTestClient(t, testOptions(t))
	if err := other.LoadNetworkFile(path); err != nil {
		t.Fatalf("load network: %v", err)
	}
	if other.Status().NetworkID != client.Status().NetworkID {
		t.Fatalf("network id mismatch: got=%s want=%s", other.Status().NetworkID, client.Status().NetworkID)
	}

	record := syntheticRecords(t, 1)[0].Record
	want, err := client.Predict(ctx, []model.TrainingRecord{record}, 0)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	got, err := other.Predict(ctx, []model.TrainingRecord{record}, 0)
	if err != nil {
		t.Fatalf("predict loaded: %v", err)
	}
	if got[0] != want[0] {
		t.Fatalf("loaded network scores differently: got=%+v want=%+v", got[0], want[0])
	}
}

func TestClientApplyTopologyRequiresApprover(t *testing.T) {
	client := newTestClient(t, testOptions(t))
	if _, err := client.ApplyTopology(context.Background(), []int{3}, ""); err == nil {
		t.Fatal("expected error without approver")
	}
	action, err := client.ApplyTopology(context.Background(), []int{3}, "ops")
	if err != nil {
		t.Fatalf("apply topology: %v", err)
	}
	if action.Status != model.ActionApplied {
		t.Fatalf("expected applied action, got %+v", action)
	}
	if got := client.Status().Hidden; len(got) != 1 || got[0] != 3 {
		t.Fatalf("unexpected hidden layers after apply: %v", got)
	}
}

func TestClientListingRejectsNegativeLimit(t *testing.T) {
	client := newTestClient(t, testOptions(t))
	if _, err := client.Runs(context.Background(), RunsRequest{Limit: -1}); err == nil {
		t.Fatal("expected runs error for negative limit")
	}
	if _, err := client.Actions(context.Background(), -1); err == nil {
		t.Fatal("expected actions error for negative limit")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	opts := testOptions(t)
	opts.Config.Store.Kind = "cassandra"
	if _, err := New(opts); err == nil {
		t.Fatal("expected error for unsupported store")
	}
}

func TestClientObserveRunFeedsOptimizer(t *testing.T) {
	opts := testOptions(t)
	opts.Config.Train.Tolerance = 0
	client := newTestClient(t, opts)
	ctx := context.Background()

	if _, err := client.ObserveRun(ctx, ""); err == nil {
		t.Fatal("expected error with no runs recorded")
	}
	if _, err := client.Train(ctx, TrainRequest{Records: syntheticRecords(t, 16)}); err != nil {
		t.Fatalf("train: %v", err)
	}
	observed, err := client.ObserveRun(ctx, "")
	if err != nil {
		t.Fatalf("observe latest: %v", err)
	}
	if observed != 3 {
		t.Fatalf("expected 3 observed epochs, got %d", observed)
	}

	report, err := client.Optimize(ctx)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	found := false
	for _, f := range report.Findings {
		if f.Bottleneck.String() == "accuracy" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected accuracy finding, got %+v", report.Findings)
	}
}
