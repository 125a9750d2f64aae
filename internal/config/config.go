package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"esgcore/internal/features"
	"esgcore/internal/model"
	"esgcore/internal/nn"
	"esgcore/internal/train"
	"esgcore/internal/tuning"
)

// Config holds all esgcore configuration.
type Config struct {
	Log          LogConfig
	Store        StoreConfig
	Encoder      model.EncoderSpec
	Network      NetworkConfig
	Train        train.Config
	Optimizer    tuning.Config
	Inference    InferenceConfig
	ArtifactsDir string
}

type LogConfig struct {
	Level string
	JSON  bool
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Kind          string // "memory", "sqlite", "redis"
	SQLitePath    string
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	Retries       uint64
	RetryBase     time.Duration
}

type NetworkConfig struct {
	Hidden     []int
	Activation string
	Output     string
	Seed       int64
}

type InferenceConfig struct {
	Timeout  time.Duration
	CacheTTL time.Duration
}

var DefaultHidden = []int{64, 32, 16}

func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Store: StoreConfig{
			Kind:         "memory",
			SQLitePath:   "esgcore.db",
			RedisAddress: "localhost:6379",
			RedisPrefix:  "esg:",
			Retries:      3,
			RetryBase:    50 * time.Millisecond,
		},
		Encoder: features.DefaultSpec(),
		Network: NetworkConfig{
			Hidden:     append([]int(nil), DefaultHidden...),
			Activation: nn.ReLU.String(),
			Output:     nn.Linear.String(),
			Seed:       1,
		},
		Train:     train.DefaultConfig(),
		Optimizer: tuning.DefaultConfig(),
		Inference: InferenceConfig{
			Timeout:  time.Second,
			CacheTTL: 5 * time.Minute,
		},
		ArtifactsDir: "esg_runs",
	}
}

// FromEnv overlays ESG_* environment variables on base. Unparseable values
// keep the base value.
func FromEnv(base Config) Config {
	cfg := base
	cfg.Log.Level = getenv("ESG_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.JSON = getenvBool("ESG_LOG_JSON", cfg.Log.JSON)

	cfg.Store.Kind = getenv("ESG_STORE", cfg.Store.Kind)
	cfg.Store.SQLitePath = getenv("ESG_SQLITE_PATH", cfg.Store.SQLitePath)
	cfg.Store.RedisAddress = getenv("ESG_REDIS_ADDR", cfg.Store.RedisAddress)
	cfg.Store.RedisPassword = getenv("ESG_REDIS_PASSWORD", cfg.Store.RedisPassword)
	cfg.Store.RedisDB = getenvInt("ESG_REDIS_DB", cfg.Store.RedisDB)
	cfg.Store.RedisPrefix = getenv("ESG_REDIS_PREFIX", cfg.Store.RedisPrefix)
	cfg.Store.Retries = uint64(getenvInt("ESG_STORE_RETRIES", int(cfg.Store.Retries)))
	cfg.Store.RetryBase = getenvDuration("ESG_STORE_RETRY_BASE", cfg.Store.RetryBase)

	if v := os.Getenv("ESG_HIDDEN"); v != "" {
		if hidden, err := ParseHidden(v); err == nil {
			cfg.Network.Hidden = hidden
		}
	}
	cfg.Network.Activation = getenv("ESG_ACTIVATION", cfg.Network.Activation)
	cfg.Network.Output = getenv("ESG_OUTPUT_ACTIVATION", cfg.Network.Output)
	cfg.Network.Seed = int64(getenvInt("ESG_SEED", int(cfg.Network.Seed)))

	cfg.Train.Epochs = getenvInt("ESG_EPOCHS", cfg.Train.Epochs)
	cfg.Train.BatchSize = getenvInt("ESG_BATCH_SIZE", cfg.Train.BatchSize)
	cfg.Train.LearningRate = getenvFloat("ESG_LEARNING_RATE", cfg.Train.LearningRate)
	cfg.Train.Momentum = getenvFloat("ESG_MOMENTUM", cfg.Train.Momentum)
	cfg.Train.WeightDecay = getenvFloat("ESG_WEIGHT_DECAY", cfg.Train.WeightDecay)
	cfg.Train.Tolerance = getenvFloat("ESG_TOLERANCE", cfg.Train.Tolerance)
	cfg.Train.Workers = getenvInt("ESG_WORKERS", cfg.Train.Workers)

	cfg.Optimizer.Window = getenvInt("ESG_OPTIMIZER_WINDOW", cfg.Optimizer.Window)
	cfg.Optimizer.Thresholds.TrainingTime = getenvDuration("ESG_TRAINING_TIME_THRESHOLD", cfg.Optimizer.Thresholds.TrainingTime)
	cfg.Optimizer.Thresholds.InferenceTime = getenvDuration("ESG_INFERENCE_TIME_THRESHOLD", cfg.Optimizer.Thresholds.InferenceTime)
	cfg.Optimizer.Thresholds.Accuracy = getenvFloat("ESG_ACCURACY_THRESHOLD", cfg.Optimizer.Thresholds.Accuracy)
	cfg.Optimizer.Limits.MaxBatchSize = getenvInt("ESG_MAX_BATCH_SIZE", cfg.Optimizer.Limits.MaxBatchSize)

	cfg.Inference.Timeout = getenvDuration("ESG_INFERENCE_TIMEOUT", cfg.Inference.Timeout)
	cfg.Inference.CacheTTL = getenvDuration("ESG_CACHE_TTL", cfg.Inference.CacheTTL)
	cfg.ArtifactsDir = getenv("ESG_ARTIFACTS_DIR", cfg.ArtifactsDir)
	return cfg
}

// Load returns Default overlaid with the environment.
func Load() Config {
	return FromEnv(Default())
}

// LoadFile overlays the JSON document at path on base. Only keys present in
// the file change; durations are Go duration strings ("250ms").
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return base, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg := base
	if err := overlay(&cfg, raw); err != nil {
		return base, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func overlay(cfg *Config, raw map[string]any) error {
	if section, ok := raw["log"].(map[string]any); ok {
		if v, ok := asString(section["level"]); ok {
			cfg.Log.Level = v
		}
		if v, ok := asBool(section["json"]); ok {
			cfg.Log.JSON = v
		}
	}

	if section, ok := raw["store"].(map[string]any); ok {
		if v, ok := asString(section["kind"]); ok {
			cfg.Store.Kind = v
		}
		if v, ok := asString(section["sqlite_path"]); ok {
			cfg.Store.SQLitePath = v
		}
		if v, ok := asString(section["redis_address"]); ok {
			cfg.Store.RedisAddress = v
		}
		if v, ok := asString(section["redis_password"]); ok {
			cfg.Store.RedisPassword = v
		}
		if v, ok := asInt(section["redis_db"]); ok {
			cfg.Store.RedisDB = v
		}
		if v, ok := asString(section["redis_prefix"]); ok {
			cfg.Store.RedisPrefix = v
		}
		if v, ok := asInt(section["retries"]); ok {
			if v < 0 {
				return model.Misconfigured("store.retries", "must be >= 0, got %d", v)
			}
			cfg.Store.Retries = uint64(v)
		}
		if err := setDuration(section, "retry_base", &cfg.Store.RetryBase); err != nil {
			return err
		}
	}

	if section, ok := raw["encoder"].(map[string]any); ok {
		if v, ok := asStrings(section["categories"]); ok {
			cfg.Encoder.Categories = v
		}
		if v, ok := asStrings(section["regions"]); ok {
			cfg.Encoder.Regions = v
		}
		if v, ok := asFloat64(section["amount_scale"]); ok {
			cfg.Encoder.AmountScale = v
		}
	}

	if section, ok := raw["network"].(map[string]any); ok {
		if v, ok := asInts(section["hidden"]); ok {
			cfg.Network.Hidden = v
		}
		if v, ok := asString(section["activation"]); ok {
			cfg.Network.Activation = v
		}
		if v, ok := asString(section["output"]); ok {
			cfg.Network.Output = v
		}
		if v, ok := asInt64(section["seed"]); ok {
			cfg.Network.Seed = v
		}
	}

	if section, ok := raw["train"].(map[string]any); ok {
		t := &cfg.Train
		if v, ok := asInt(section["epochs"]); ok {
			t.Epochs = v
		}
		if v, ok := asInt(section["batch_size"]); ok {
			t.BatchSize = v
		}
		if v, ok := asFloat64(section["learning_rate"]); ok {
			t.LearningRate = v
		}
		if v, ok := asFloat64(section["momentum"]); ok {
			t.Momentum = v
		}
		if v, ok := asFloat64(section["weight_decay"]); ok {
			t.WeightDecay = v
		}
		if v, ok := asFloat64(section["tolerance"]); ok {
			t.Tolerance = v
		}
		if v, ok := asFloat64(section["positive_threshold"]); ok {
			t.PositiveThreshold = v
		}
		if v, ok := asInt(section["augmentation_factor"]); ok {
			t.AugmentationFactor = v
		}
		if v, ok := asFloat64(section["augmentation_jitter"]); ok {
			t.AugmentationJitter = v
		}
		if v, ok := asInt(section["workers"]); ok {
			t.Workers = v
		}
		if v, ok := asInt64(section["seed"]); ok {
			t.Seed = v
		}
	}

	if section, ok := raw["optimizer"].(map[string]any); ok {
		o := &cfg.Optimizer
		if v, ok := asInt(section["window"]); ok {
			o.Window = v
		}
		if err := setDuration(section, "training_time", &o.Thresholds.TrainingTime); err != nil {
			return err
		}
		if err := setDuration(section, "inference_time", &o.Thresholds.InferenceTime); err != nil {
			return err
		}
		if v, ok := asFloat64(section["accuracy"]); ok {
			o.Thresholds.Accuracy = v
		}
		if v, ok := asInt(section["max_batch_size"]); ok {
			o.Limits.MaxBatchSize = v
		}
		if v, ok := asInt(section["max_augmentation_factor"]); ok {
			o.Limits.MaxAugmentationFactor = v
		}
	}

	if section, ok := raw["inference"].(map[string]any); ok {
		if err := setDuration(section, "timeout", &cfg.Inference.Timeout); err != nil {
			return err
		}
		if err := setDuration(section, "cache_ttl", &cfg.Inference.CacheTTL); err != nil {
			return err
		}
	}

	if v, ok := asString(raw["artifacts_dir"]); ok {
		cfg.ArtifactsDir = v
	}
	return nil
}

// Topology resolves the network section against an encoder input size.
func (c Config) Topology(inputs int) (nn.Topology, error) {
	activation, err := nn.ParseActivation(c.Network.Activation)
	if err != nil {
		return nn.Topology{}, model.Misconfigured("network.activation", "%v (supported: %s)", err, strings.Join(nn.ListActivations(), ", "))
	}
	output, err := nn.ParseActivation(c.Network.Output)
	if err != nil {
		return nn.Topology{}, model.Misconfigured("network.output", "%v (supported: %s)", err, strings.Join(nn.ListActivations(), ", "))
	}
	hidden := make([]nn.LayerSpec, 0, len(c.Network.Hidden))
	for _, size := range c.Network.Hidden {
		hidden = append(hidden, nn.LayerSpec{Size: size, Activation: activation})
	}
	topology := nn.Topology{Inputs: inputs, Hidden: hidden, Output: output}
	return topology, topology.Validate()
}

func (c Config) Validate() error {
	switch c.Store.Kind {
	case "memory", "sqlite", "redis":
	default:
		return model.Misconfigured("store.kind", "unsupported store %q", c.Store.Kind)
	}
	if c.Store.Kind == "sqlite" && strings.TrimSpace(c.Store.SQLitePath) == "" {
		return model.Misconfigured("store.sqlite_path", "required for the sqlite store")
	}
	if c.Store.Kind == "redis" && strings.TrimSpace(c.Store.RedisAddress) == "" {
		return model.Misconfigured("store.redis_address", "required for the redis store")
	}
	if _, err := features.New(c.Encoder); err != nil {
		return err
	}
	if _, err := c.Topology(1); err != nil {
		return err
	}
	if err := c.Train.Validate(); err != nil {
		return err
	}
	if err := c.Optimizer.Validate(); err != nil {
		return err
	}
	if c.Inference.Timeout < 0 {
		return model.Misconfigured("inference.timeout", "must be >= 0, got %s", c.Inference.Timeout)
	}
	if c.Inference.CacheTTL < 0 {
		return model.Misconfigured("inference.cache_ttl", "must be >= 0, got %s", c.Inference.CacheTTL)
	}
	return nil
}

// ParseHidden parses a comma separated list of hidden layer sizes.
func ParseHidden(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("parse hidden size %q: %w", part, err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("hidden size must be > 0, got %d", n)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one hidden layer size is required")
	}
	return out, nil
}

func setDuration(section map[string]any, key string, dst *time.Duration) error {
	v, ok := asString(section[key])
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func asStrings(v any) ([]string, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := asString(item)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func asInts(v any) ([]int, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		n, ok := asInt(item)
		if !ok {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}
