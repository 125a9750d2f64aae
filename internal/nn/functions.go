package nn

import "fmt"

// Sat clamps value to [min, max].
func Sat(value, max, min float64) float64 {
	if value > max {
		return max
	}
	if value < min {
		return min
	}
	return value
}

// SquaredError returns the mean of (output-target)² over the outputs and
// writes its gradient with respect to output, 2(output-target)/n, into grad.
func SquaredError(output, target, grad []float64) (float64, error) {
	if len(output) != len(target) || len(grad) != len(output) {
		return 0, fmt.Errorf("%w: output=%d target=%d grad=%d", ErrInputSize, len(output), len(target), len(grad))
	}
	if len(output) == 0 {
		return 0, nil
	}
	n := float64(len(output))
	loss := 0.0
	for i := range output {
		d := output[i] - target[i]
		loss += d * d
		grad[i] = 2 * d / n
	}
	return loss / n, nil
}
