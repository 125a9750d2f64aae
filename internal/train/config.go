package train

import "esgcore/internal/model"

const (
	DefaultEpochs             = 1000
	DefaultBatchSize          = 32
	DefaultLearningRate       = 0.001
	DefaultMomentum           = 0.9
	DefaultTolerance          = 0.1
	DefaultPositiveThreshold  = 0.5
	DefaultAugmentationJitter = 0.05
)

// Config is the mutable part of a Trainer. The self optimizer edits it
// through Trainer.UpdateConfig.
type Config struct {
	Epochs            int     `json:"epochs"`
	BatchSize         int     `json:"batch_size"`
	LearningRate      float64 `json:"learning_rate"`
	Momentum          float64 `json:"momentum"`
	WeightDecay       float64 `json:"weight_decay"`
	Tolerance         float64 `json:"tolerance"`
	PositiveThreshold float64 `json:"positive_threshold"`
	// AugmentationFactor is the number of copies of every sample seen per
	// epoch; 1 disables augmentation.
	AugmentationFactor int     `json:"augmentation_factor"`
	AugmentationJitter float64 `json:"augmentation_jitter"`
	Workers            int     `json:"workers"`
	Seed               int64   `json:"seed"`
}

func DefaultConfig() Config {
	return Config{
		Epochs:             DefaultEpochs,
		BatchSize:          DefaultBatchSize,
		LearningRate:       DefaultLearningRate,
		Momentum:           DefaultMomentum,
		Tolerance:          DefaultTolerance,
		PositiveThreshold:  DefaultPositiveThreshold,
		AugmentationFactor: 1,
		AugmentationJitter: DefaultAugmentationJitter,
		Workers:            1,
		Seed:               1,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Epochs <= 0:
		return model.Misconfigured("train.epochs", "must be > 0, got %d", c.Epochs)
	case c.BatchSize <= 0:
		return model.Misconfigured("train.batch_size", "must be > 0, got %d", c.BatchSize)
	case !(c.LearningRate > 0):
		return model.Misconfigured("train.learning_rate", "must be > 0, got %v", c.LearningRate)
	case !(c.Momentum >= 0 && c.Momentum < 1):
		return model.Misconfigured("train.momentum", "must be in [0, 1), got %v", c.Momentum)
	case !(c.WeightDecay >= 0):
		return model.Misconfigured("train.weight_decay", "must be >= 0, got %v", c.WeightDecay)
	case !(c.Tolerance >= 0):
		return model.Misconfigured("train.tolerance", "must be >= 0, got %v", c.Tolerance)
	case c.AugmentationFactor < 1:
		return model.Misconfigured("train.augmentation_factor", "must be >= 1, got %d", c.AugmentationFactor)
	case !(c.AugmentationJitter >= 0 && c.AugmentationJitter < 1):
		return model.Misconfigured("train.augmentation_jitter", "must be in [0, 1), got %v", c.AugmentationJitter)
	case c.Workers < 1:
		return model.Misconfigured("train.workers", "must be >= 1, got %d", c.Workers)
	}
	return nil
}

// Map renders the configuration for run records.
func (c Config) Map() map[string]any {
	return map[string]any{
		"epochs":              c.Epochs,
		"batch_size":          c.BatchSize,
		"learning_rate":       c.LearningRate,
		"momentum":            c.Momentum,
		"weight_decay":        c.WeightDecay,
		"tolerance":           c.Tolerance,
		"positive_threshold":  c.PositiveThreshold,
		"augmentation_factor": c.AugmentationFactor,
		"augmentation_jitter": c.AugmentationJitter,
		"workers":             c.Workers,
		"seed":                c.Seed,
	}
}
