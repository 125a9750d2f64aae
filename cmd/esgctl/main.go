package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"esgcore/internal/config"
	"esgcore/internal/dataset"
	"esgcore/internal/model"
	"esgcore/internal/score"
	"esgcore/pkg/esgcore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "synth":
		return runSynth(ctx, args[1:])
	case "train":
		return runTrain(ctx, args[1:])
	case "predict":
		return runPredict(ctx, args[1:])
	case "optimize":
		return runOptimize(ctx, args[1:])
	case "apply-topology":
		return runApplyTopology(ctx, args[1:])
	case "status":
		return runStatus(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "actions":
		return runActions(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runSynth(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("synth", flag.ContinueOnError)
	n := fs.Int("n", 1000, "number of labeled records")
	seed := fs.Int64("seed", 42, "random seed")
	out := fs.String("out", "", "output path (.csv or .jsonl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *n <= 0 {
		return errors.New("n must be > 0")
	}
	if *out == "" {
		return errors.New("synth requires --out")
	}

	records, err := dataset.Synthetic(rand.New(rand.NewSource(*seed)), *n)
	if err != nil {
		return err
	}
	if err := writeLabeledFile(*out, records); err != nil {
		return err
	}
	fmt.Printf("wrote records=%d to=%s\n", len(records), filepath.Clean(*out))
	return nil
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	common := addCommonFlags(fs)
	data := fs.String("data", "", "labeled training data (.csv or .jsonl)")
	epochs := fs.Int("epochs", 0, "training epochs (0 keeps config)")
	batchSize := fs.Int("batch-size", 0, "mini-batch size (0 keeps config)")
	learningRate := fs.Float64("lr", 0, "learning rate (0 keeps config)")
	workers := fs.Int("workers", 0, "gradient workers (0 keeps config)")
	seed := fs.Int64("seed", 0, "shuffle seed (0 keeps config)")
	hidden := fs.String("hidden", "", "hidden layer sizes, e.g. 64,32,16")
	network := fs.String("network", "", "start from a saved network file")
	save := fs.String("save", "", "write the trained network to this file")
	jsonOut := fs.Bool("json", false, "emit the run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *data == "" {
		return errors.New("train requires --data")
	}

	cfg, err := common.resolve(fs)
	if err != nil {
		return err
	}
	if *hidden != "" {
		sizes, err := config.ParseHidden(*hidden)
		if err != nil {
			return err
		}
		cfg.Network.Hidden = sizes
	}
	records, err := readLabeledFile(*data)
	if err != nil {
		return err
	}

	client, err := openInitialized(ctx, cfg, *network)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, trainErr := client.Train(ctx, esgcore.TrainRequest{
		Records:      records,
		Epochs:       *epochs,
		BatchSize:    *batchSize,
		LearningRate: *learningRate,
		Workers:      *workers,
		Seed:         *seed,
	})
	if summary.RunID == "" {
		return trainErr
	}
	if *save != "" && summary.Epochs > 0 {
		if err := client.SaveNetworkFile(*save); err != nil {
			return errors.Join(trainErr, err)
		}
	}

	if *jsonOut {
		if err := printJSON(summary); err != nil {
			return err
		}
		return trainErr
	}
	fmt.Printf("run_id=%s network_id=%s status=%s epochs=%d loss=%.6f accuracy=%.4f f1=%.4f duration=%s\n",
		summary.RunID,
		summary.NetworkID,
		summary.Status,
		summary.Epochs,
		summary.Final.Loss,
		summary.Final.Accuracy,
		summary.Final.F1,
		summary.Duration.Round(time.Millisecond),
	)
	if summary.ArtifactsDir != "" {
		fmt.Printf("artifacts=%s\n", summary.ArtifactsDir)
	}
	return trainErr
}

type predictionItem struct {
	ID     string         `json:"id"`
	Score  model.ESGScore `json:"score"`
	Rating score.Rating   `json:"rating"`
}

func runPredict(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	common := addCommonFlags(fs)
	data := fs.String("data", "", "records to score (.csv or .jsonl)")
	network := fs.String("network", "", "saved network file (defaults to the latest stored network)")
	timeout := fs.Duration("timeout", 0, "inference timeout (0 keeps config)")
	jsonOut := fs.Bool("json", false, "emit predictions as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *data == "" {
		return errors.New("predict requires --data")
	}

	cfg, err := common.resolve(fs)
	if err != nil {
		return err
	}
	records, err := readRecordsFile(*data)
	if err != nil {
		return err
	}

	client, err := openInitialized(ctx, cfg, *network)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	scores, err := client.Predict(ctx, records, *timeout)
	if err != nil {
		return err
	}
	items := make([]predictionItem, len(scores))
	for i, s := range scores {
		items[i] = predictionItem{ID: records[i].ID, Score: s, Rating: score.Rate(s.Total)}
	}
	if *jsonOut {
		return printJSON(items)
	}
	for _, item := range items {
		fmt.Printf("id=%s environmental=%.4f social=%.4f governance=%.4f total=%.4f confidence=%.4f rating=%s\n",
			item.ID,
			item.Score.Environmental,
			item.Score.Social,
			item.Score.Governance,
			item.Score.Total,
			item.Score.Confidence,
			item.Rating,
		)
	}
	return nil
}

func runOptimize(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("optimize", flag.ContinueOnError)
	common := addCommonFlags(fs)
	runID := fs.String("run-id", "", "run whose metrics seed the window (defaults to latest)")
	network := fs.String("network", "", "saved network file")
	approvedBy := fs.String("approved-by", "", "approve a proposed topology change on behalf of this operator")
	save := fs.String("save", "", "write the network to this file after an approved topology change")
	jsonOut := fs.Bool("json", false, "emit the optimization report as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.resolve(fs)
	if err != nil {
		return err
	}
	client, err := openInitialized(ctx, cfg, *network)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if _, err := client.ObserveRun(ctx, *runID); err != nil {
		return err
	}
	report, err := client.Optimize(ctx)
	if err != nil {
		return err
	}

	var applied *model.OptimizationAction
	if *approvedBy != "" {
		if _, ok := client.Engine().Optimizer().PendingTopology(); ok {
			action, err := client.ApplyTopology(ctx, nil, *approvedBy)
			if err != nil {
				return err
			}
			applied = &action
			if *save != "" {
				if err := client.SaveNetworkFile(*save); err != nil {
					return err
				}
			}
		}
	}

	if *jsonOut {
		return printJSON(struct {
			Report   esgcore.OptimizeSummary   `json:"report"`
			Topology *model.OptimizationAction `json:"topology,omitempty"`
		}{report, applied})
	}
	if len(report.Findings) == 0 {
		fmt.Println("no bottlenecks found")
	}
	for _, a := range report.Actions {
		fmt.Printf("bottleneck=%s parameter=%s old=%g new=%g status=%s reason=%q\n",
			a.Bottleneck, a.Parameter, a.OldValue, a.NewValue, a.Status, a.Reason)
	}
	fmt.Printf("applied=%d improvement_percentage=%.1f\n", report.Applied, report.ImprovementPercentage)
	if applied != nil {
		fmt.Printf("topology applied hidden=%v %s\n", applied.ProposedHidden, applied.Reason)
	}
	return nil
}

func runApplyTopology(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("apply-topology", flag.ContinueOnError)
	common := addCommonFlags(fs)
	hidden := fs.String("hidden", "", "hidden layer sizes, e.g. 32,16")
	approvedBy := fs.String("approved-by", "", "operator approving the change")
	network := fs.String("network", "", "saved network file")
	save := fs.String("save", "", "write the new network to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *hidden == "" {
		return errors.New("apply-topology requires --hidden")
	}
	if *approvedBy == "" {
		return errors.New("apply-topology requires --approved-by")
	}
	sizes, err := config.ParseHidden(*hidden)
	if err != nil {
		return err
	}

	cfg, err := common.resolve(fs)
	if err != nil {
		return err
	}
	client, err := openInitialized(ctx, cfg, *network)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	action, err := client.ApplyTopology(ctx, sizes, *approvedBy)
	if err != nil {
		return err
	}
	if *save != "" {
		if err := client.SaveNetworkFile(*save); err != nil {
			return err
		}
	}
	fmt.Printf("topology applied hidden=%v old_neurons=%g new_neurons=%g network_id=%s\n",
		action.ProposedHidden, action.OldValue, action.NewValue, client.Status().NetworkID)
	return nil
}

func runStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	common := addCommonFlags(fs)
	network := fs.String("network", "", "saved network file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.resolve(fs)
	if err != nil {
		return err
	}
	client, err := openInitialized(ctx, cfg, *network)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	return printJSON(client.Status())
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	common := addCommonFlags(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	cfg, err := common.resolve(fs)
	if err != nil {
		return err
	}
	client, err := openInitialized(ctx, cfg, "")
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, esgcore.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("run_id=%s started_at=%s status=%s samples=%d epochs=%d final_loss=%.6f final_accuracy=%.4f\n",
			r.RunID,
			r.StartedAtUTC,
			r.Status,
			r.Samples,
			r.Epochs,
			r.FinalLoss,
			r.FinalAccuracy,
		)
	}
	return nil
}

func runActions(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("actions", flag.ContinueOnError)
	common := addCommonFlags(fs)
	limit := fs.Int("limit", 50, "max actions to list (0 lists all)")
	jsonOut := fs.Bool("json", false, "emit actions as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.resolve(fs)
	if err != nil {
		return err
	}
	client, err := openInitialized(ctx, cfg, "")
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	actions, err := client.Actions(ctx, *limit)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(actions)
	}
	if len(actions) == 0 {
		fmt.Println("no actions recorded")
		return nil
	}
	for _, a := range actions {
		fmt.Printf("created_at=%s bottleneck=%s parameter=%s old=%g new=%g status=%s reason=%q\n",
			a.CreatedAt.Format(time.RFC3339), a.Bottleneck, a.Parameter, a.OldValue, a.NewValue, a.Status, a.Reason)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	common := addCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	cfg, err := common.resolve(fs)
	if err != nil {
		return err
	}
	client, err := openClient(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, esgcore.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

// openInitialized opens and initializes a client, then installs the network
// file when one is given.
func openInitialized(ctx context.Context, cfg config.Config, networkPath string) (*esgcore.Client, error) {
	client, err := openClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := client.Init(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	if networkPath != "" {
		if err := client.LoadNetworkFile(networkPath); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	return client, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: esgctl <synth|train|predict|optimize|apply-topology|status|runs|actions|export> [flags]", msg)
}
