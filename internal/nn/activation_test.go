package nn

import (
	"errors"
	"math"
	"testing"
)

func TestActivationApply(t *testing.T) {
	tests := []struct {
		name string
		act  Activation
		x    float64
		want float64
	}{
		{name: "linear", act: Linear, x: 2.5, want: 2.5},
		{name: "relu-negative", act: ReLU, x: -1, want: 0},
		{name: "relu-positive", act: ReLU, x: 3, want: 3},
		{name: "tanh", act: Tanh, x: 0, want: 0},
		{name: "sigmoid", act: Sigmoid, x: 0, want: 0.5},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.act.Apply(tc.x)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("unexpected value: got=%f want=%f", got, tc.want)
			}
		})
	}
}

func TestActivationDerivativeMatchesFiniteDifference(t *testing.T) {
	const h = 1e-6
	for _, act := range []Activation{Linear, Sigmoid, Tanh, ReLU} {
		for _, x := range []float64{-1.3, -0.2, 0.4, 2.1} {
			y := act.Apply(x)
			numeric := (act.Apply(x+h) - act.Apply(x-h)) / (2 * h)
			analytic := act.Derivative(x, y)
			if math.Abs(numeric-analytic) > 1e-5 {
				t.Fatalf("%s'(%f): analytic=%f numeric=%f", act, x, analytic, numeric)
			}
		}
	}
}

func TestReLUDerivativeAtZero(t *testing.T) {
	if got := ReLU.Derivative(0, 0); got != 0 {
		t.Fatalf("relu'(0) should be 0, got %f", got)
	}
}

func TestParseActivation(t *testing.T) {
	for _, name := range ListActivations() {
		act, err := ParseActivation(name)
		if err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		if act.String() != name {
			t.Fatalf("round trip mismatch: %s != %s", act.String(), name)
		}
	}
	if _, err := ParseActivation("softmax"); !errors.Is(err, ErrActivationNotFound) {
		t.Fatalf("expected ErrActivationNotFound, got %v", err)
	}
}
