package model

import "time"

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

// CurrentVersion stamps a record with the versions this build writes.
func CurrentVersion() VersionedRecord {
	return VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// TrainingRecord is one raw activity record supplied by an external collaborator.
type TrainingRecord struct {
	ID           string    `json:"id"`
	Amount       float64   `json:"amount"`
	Category     string    `json:"category"`
	Municipality string    `json:"municipality"`
	Region       string    `json:"region"`
	CounterpartA string    `json:"counterpart_a"`
	CounterpartB string    `json:"counterpart_b"`
	IssuedAt     time.Time `json:"issued_at"`
	Verified     bool      `json:"verified"`
}

// LabeledRecord pairs a record with the score the network should learn for it.
type LabeledRecord struct {
	Record TrainingRecord `json:"record"`
	Target ESGScore       `json:"target"`
}

const ESGOutputs = 5

// ESGScore holds four bounded sub-scores plus an uncalibrated, ordinal
// confidence signal.
type ESGScore struct {
	Environmental float64 `json:"environmental"`
	Social        float64 `json:"social"`
	Governance    float64 `json:"governance"`
	Total         float64 `json:"total"`
	Confidence    float64 `json:"confidence"`
}

// Vector returns the score in network output order.
func (s ESGScore) Vector() []float64 {
	return []float64{s.Environmental, s.Social, s.Governance, s.Total, s.Confidence}
}

type TrainingMetrics struct {
	Epoch         int           `json:"epoch"`
	Accuracy      float64       `json:"accuracy"`
	Precision     float64       `json:"precision"`
	Recall        float64       `json:"recall"`
	F1            float64       `json:"f1"`
	Loss          float64       `json:"loss"`
	EpochTime     time.Duration `json:"epoch_time"`
	InferenceTime time.Duration `json:"inference_time"`
}

type LayerTopology struct {
	Inputs     int    `json:"inputs"`
	Outputs    int    `json:"outputs"`
	Activation string `json:"activation"`
}

type LayerParameters struct {
	// Weights are stored row-major, one row per neuron.
	Weights []float64 `json:"weights"`
	Biases  []float64 `json:"biases"`
}

// EncoderSpec pins the feature layout a network was trained against.
type EncoderSpec struct {
	FeatureVersion int      `json:"feature_version"`
	Categories     []string `json:"categories"`
	Regions        []string `json:"regions"`
	AmountScale    float64  `json:"amount_scale"`
}

type NetworkSnapshot struct {
	VersionedRecord
	ID         string            `json:"id"`
	CreatedAt  time.Time         `json:"created_at"`
	Topology   []LayerTopology   `json:"topology"`
	Parameters []LayerParameters `json:"parameters"`
	Encoder    EncoderSpec       `json:"encoder"`
}

type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusDiverged  RunStatus = "diverged"
	RunStatusFailed    RunStatus = "failed"
)

type TrainingRun struct {
	VersionedRecord
	ID         string            `json:"id"`
	NetworkID  string            `json:"network_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Status     RunStatus         `json:"status"`
	Samples    int               `json:"samples"`
	Config     map[string]any    `json:"config,omitempty"`
	Metrics    []TrainingMetrics `json:"metrics"`
	Error      string            `json:"error,omitempty"`
}

type ActionStatus string

const (
	ActionApplied  ActionStatus = "applied"
	ActionRejected ActionStatus = "rejected"
	ActionPending  ActionStatus = "pending"
)

// OptimizationAction is one audited change proposed by the self optimizer.
// ProposedHidden carries the hidden layer sizes of a topology proposal.
type OptimizationAction struct {
	VersionedRecord
	ID             string       `json:"id"`
	Bottleneck     string       `json:"bottleneck"`
	Severity       string       `json:"severity"`
	Parameter      string       `json:"parameter"`
	OldValue       float64      `json:"old_value"`
	NewValue       float64      `json:"new_value"`
	ExpectedGain   float64      `json:"expected_gain"`
	Description    string       `json:"description,omitempty"`
	ProposedHidden []int        `json:"proposed_hidden,omitempty"`
	Status         ActionStatus `json:"status"`
	Reason         string       `json:"reason,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}
