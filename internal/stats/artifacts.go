package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"esgcore/internal/model"
)

const (
	runIndexFile = "run_index.json"

	configFile  = "config.json"
	metricsFile = "metrics.json"
	seriesFile  = "metrics.csv"
	actionsFile = "actions.json"
	networkFile = "network.json"
	summaryFile = "summary.json"
)

type RunConfig struct {
	RunID     string         `json:"run_id"`
	NetworkID string         `json:"network_id"`
	Status    string         `json:"status"`
	Samples   int            `json:"samples"`
	StartedAt time.Time      `json:"started_at"`
	Trainer   map[string]any `json:"trainer,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type RunArtifacts struct {
	Run     model.TrainingRun
	Actions []model.OptimizationAction
	Network *model.NetworkSnapshot
}

type RunIndexEntry struct {
	RunID         string  `json:"run_id"`
	NetworkID     string  `json:"network_id"`
	Status        string  `json:"status"`
	Samples       int     `json:"samples"`
	Epochs        int     `json:"epochs"`
	FinalAccuracy float64 `json:"final_accuracy"`
	FinalLoss     float64 `json:"final_loss"`
	CreatedAtUTC  string  `json:"created_at_utc"`
}

// IndexEntry summarizes run for the run index.
func IndexEntry(run model.TrainingRun) RunIndexEntry {
	entry := RunIndexEntry{
		RunID:        run.ID,
		NetworkID:    run.NetworkID,
		Status:       string(run.Status),
		Samples:      run.Samples,
		Epochs:       len(run.Metrics),
		CreatedAtUTC: run.StartedAt.UTC().Format(time.RFC3339Nano),
	}
	if n := len(run.Metrics); n > 0 {
		entry.FinalAccuracy = run.Metrics[n-1].Accuracy
		entry.FinalLoss = run.Metrics[n-1].Loss
	}
	return entry
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	run := artifacts.Run
	if run.ID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, run.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	cfg := RunConfig{
		RunID:     run.ID,
		NetworkID: run.NetworkID,
		Status:    string(run.Status),
		Samples:   run.Samples,
		StartedAt: run.StartedAt,
		Trainer:   run.Config,
		Error:     run.Error,
	}
	if err := writeJSON(filepath.Join(runDir, configFile), cfg); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, metricsFile), run.Metrics); err != nil {
		return "", err
	}
	if err := WriteMetricsSeries(runDir, run.Metrics); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, summaryFile), Summarize(run.Metrics)); err != nil {
		return "", err
	}
	actions := artifacts.Actions
	if actions == nil {
		actions = []model.OptimizationAction{}
	}
	if err := writeJSON(filepath.Join(runDir, actionsFile), actions); err != nil {
		return "", err
	}
	if artifacts.Network != nil {
		if err := writeJSON(filepath.Join(runDir, networkFile), artifacts.Network); err != nil {
			return "", err
		}
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := readRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	entries, err := readRunIndex(baseDir)
	if err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// readRunIndex returns entries in append order.
func readRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}
	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ExportRunArtifacts copies a run directory to outDir. The network snapshot
// is optional.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, metricsFile, seriesFile, summaryFile, actionsFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	networkPath := filepath.Join(src, networkFile)
	if _, err := os.Stat(networkPath); err == nil {
		if err := copyFile(networkPath, filepath.Join(dst, networkFile)); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	return cfg, ok, err
}

func ReadMetrics(baseDir, runID string) ([]model.TrainingMetrics, bool, error) {
	var metrics []model.TrainingMetrics
	ok, err := readJSON(filepath.Join(baseDir, runID, metricsFile), &metrics)
	return metrics, ok, err
}

var seriesHeader = []string{"epoch", "loss", "accuracy", "precision", "recall", "f1", "epoch_time_ms", "inference_time_us"}

func WriteMetricsSeries(runDir string, metrics []model.TrainingMetrics) error {
	path := filepath.Join(runDir, seriesFile)
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(seriesHeader); err != nil {
		return err
	}
	for _, m := range metrics {
		if err := writer.Write([]string{
			strconv.Itoa(m.Epoch),
			strconv.FormatFloat(m.Loss, 'f', -1, 64),
			strconv.FormatFloat(m.Accuracy, 'f', -1, 64),
			strconv.FormatFloat(m.Precision, 'f', -1, 64),
			strconv.FormatFloat(m.Recall, 'f', -1, 64),
			strconv.FormatFloat(m.F1, 'f', -1, 64),
			strconv.FormatFloat(float64(m.EpochTime)/float64(time.Millisecond), 'f', -1, 64),
			strconv.FormatFloat(float64(m.InferenceTime)/float64(time.Microsecond), 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadLossSeries returns the per-epoch loss column of metrics.csv.
func ReadLossSeries(baseDir, runID string) ([]float64, bool, error) {
	path := filepath.Join(baseDir, runID, seriesFile)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 || header[1] != "loss" {
		return nil, false, fmt.Errorf("metrics series header must start with epoch,loss")
	}

	series := make([]float64, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
