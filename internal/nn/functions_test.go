package nn

import (
	"errors"
	"math"
	"testing"
)

func TestSat(t *testing.T) {
	tests := []struct {
		value, max, min, want float64
	}{
		{value: 5, max: 1, min: 0, want: 1},
		{value: -3, max: 1, min: 0, want: 0},
		{value: 0.5, max: 1, min: 0, want: 0.5},
		{value: math.Inf(1), max: 3, min: -3, want: 3},
	}
	for _, tc := range tests {
		if got := Sat(tc.value, tc.max, tc.min); got != tc.want {
			t.Fatalf("Sat(%f, %f, %f)=%f want %f", tc.value, tc.max, tc.min, got, tc.want)
		}
	}
}

func TestSquaredError(t *testing.T) {
	grad := make([]float64, 2)
	loss, err := SquaredError([]float64{1, 0.5}, []float64{0, 1}, grad)
	if err != nil {
		t.Fatalf("squared error: %v", err)
	}
	if math.Abs(loss-0.625) > 1e-12 {
		t.Fatalf("unexpected loss: %f", loss)
	}
	if grad[0] != 1 || grad[1] != -0.5 {
		t.Fatalf("unexpected gradient: %v", grad)
	}
	if _, err := SquaredError([]float64{1}, []float64{1, 2}, grad); !errors.Is(err, ErrInputSize) {
		t.Fatalf("expected ErrInputSize, got %v", err)
	}
}
