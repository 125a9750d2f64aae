package train

import (
	"errors"
	"fmt"
)

var (
	ErrTrainingInProgress = errors.New("training already in progress")
	ErrCancelled          = errors.New("training cancelled")
	ErrNoSamples          = errors.New("no training samples")
)

// DivergenceError is returned when an update leaves a non-finite parameter.
// The network has been rolled back to the checkpoint taken before Epoch.
type DivergenceError struct {
	Epoch int
	Batch int
	Cause error
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("training diverged at epoch %d batch %d: %v", e.Epoch, e.Batch, e.Cause)
}

func (e *DivergenceError) Unwrap() error {
	return e.Cause
}
