package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"esgcore/internal/model"
)

var (
	ErrVersionMismatch = errors.New("record version mismatch")
	// ErrCorruptRecord marks a stored payload that cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt record")
)

// EncodeNetwork serializes a snapshot into the versioned blob handed to
// external storage.
func EncodeNetwork(s model.NetworkSnapshot) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeNetwork(data []byte) (model.NetworkSnapshot, error) {
	var snapshot model.NetworkSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return model.NetworkSnapshot{}, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	if err := checkVersion(snapshot.VersionedRecord); err != nil {
		return model.NetworkSnapshot{}, err
	}
	return snapshot, nil
}

func EncodeRun(r model.TrainingRun) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.TrainingRun, error) {
	var run model.TrainingRun
	if err := json.Unmarshal(data, &run); err != nil {
		return model.TrainingRun{}, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.TrainingRun{}, err
	}
	return run, nil
}

func EncodeAction(a model.OptimizationAction) ([]byte, error) {
	return json.Marshal(a)
}

func DecodeAction(data []byte) (model.OptimizationAction, error) {
	var action model.OptimizationAction
	if err := json.Unmarshal(data, &action); err != nil {
		return model.OptimizationAction{}, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	if err := checkVersion(action.VersionedRecord); err != nil {
		return model.OptimizationAction{}, err
	}
	return action, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != model.CurrentSchemaVersion || v.CodecVersion != model.CurrentCodecVersion {
		return fmt.Errorf("%w: schema=%d codec=%d", ErrVersionMismatch, v.SchemaVersion, v.CodecVersion)
	}
	return nil
}
