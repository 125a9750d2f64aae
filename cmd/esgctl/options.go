package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"esgcore/internal/config"
	"esgcore/internal/dataset"
	"esgcore/internal/logging"
	"esgcore/internal/model"
	"esgcore/pkg/esgcore"
)

const exportsDir = "exports"

// commonOptions are the flags shared by every command that opens a client.
// Flags override the config file, which overrides ESG_* variables.
type commonOptions struct {
	configPath   *string
	store        *string
	dbPath       *string
	artifactsDir *string
	logLevel     *string
	jsonLogs     *bool
}

func addCommonFlags(fs *flag.FlagSet) *commonOptions {
	return &commonOptions{
		configPath:   fs.String("config", "", "path to a JSON config file"),
		store:        fs.String("store", "", "store backend: memory|sqlite|redis"),
		dbPath:       fs.String("db-path", "", "sqlite database path"),
		artifactsDir: fs.String("artifacts-dir", "", "run artifacts directory"),
		logLevel:     fs.String("log-level", "", "log level: debug|info|warn|error"),
		jsonLogs:     fs.Bool("json-logs", false, "emit logs as JSON"),
	}
}

func (o *commonOptions) resolve(fs *flag.FlagSet) (config.Config, error) {
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	cfg := config.Load()
	if *o.configPath != "" {
		loaded, err := config.LoadFile(*o.configPath, cfg)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if setFlags["store"] {
		cfg.Store.Kind = *o.store
	}
	if setFlags["db-path"] {
		cfg.Store.SQLitePath = *o.dbPath
	}
	if setFlags["artifacts-dir"] {
		cfg.ArtifactsDir = *o.artifactsDir
	}
	if setFlags["log-level"] {
		cfg.Log.Level = *o.logLevel
	}
	if setFlags["json-logs"] {
		cfg.Log.JSON = *o.jsonLogs
	}
	return cfg, nil
}

func openClient(cfg config.Config) (*esgcore.Client, error) {
	logger := logging.Init(logging.ParseLevel(cfg.Log.Level), cfg.Log.JSON)
	return esgcore.New(esgcore.Options{
		Config:     cfg,
		ExportsDir: exportsDir,
		Logger:     logger,
	})
}

func readLabeledFile(path string) ([]model.LabeledRecord, error) {
	format, err := dataset.FormatFor(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	records, err := dataset.ReadLabeled(f, format)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return records, nil
}

func readRecordsFile(path string) ([]model.TrainingRecord, error) {
	format, err := dataset.FormatFor(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	records, err := dataset.ReadRecords(f, format)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return records, nil
}

func writeLabeledFile(path string, records []model.LabeledRecord) error {
	format, err := dataset.FormatFor(path)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := dataset.WriteLabeled(f, format, records); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
