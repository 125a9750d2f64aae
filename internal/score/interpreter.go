package score

import (
	"fmt"

	"esgcore/internal/model"
	"esgcore/internal/nn"
)

// InterpretationError reports a raw output whose shape does not match the
// ESG score layout.
type InterpretationError struct {
	Got int
}

func (e *InterpretationError) Error() string {
	return fmt.Sprintf("interpret output: expected %d values, got %d", model.ESGOutputs, e.Got)
}

// Interpret maps raw network outputs onto an ESGScore. Total is read from its
// own neuron and is not recomputed from the sub-scores. Confidence is an
// ordinal signal only.
func Interpret(output []float64) (model.ESGScore, error) {
	if len(output) != model.ESGOutputs {
		return model.ESGScore{}, &InterpretationError{Got: len(output)}
	}
	return model.ESGScore{
		Environmental: clamp(output[0]),
		Social:        clamp(output[1]),
		Governance:    clamp(output[2]),
		Total:         clamp(output[3]),
		Confidence:    clamp(output[4]),
	}, nil
}

// clamp bounds v to [0,1]; NaN maps to 0.
func clamp(v float64) float64 {
	if v != v {
		return 0
	}
	return nn.Sat(v, 1, 0)
}
