package platform

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInferenceTimeout  = errors.New("inference timeout")
	ErrNoNetwork         = errors.New("network not found")
	ErrNoPendingTopology = errors.New("no pending topology proposal")
)

// InferenceTimeoutError reports an inference that did not finish within its
// budget. Engine state is untouched.
type InferenceTimeoutError struct {
	Timeout time.Duration
	Records int
}

func (e *InferenceTimeoutError) Error() string {
	return fmt.Sprintf("inference of %d record(s) exceeded %s", e.Records, e.Timeout)
}

func (e *InferenceTimeoutError) Unwrap() error {
	return ErrInferenceTimeout
}
