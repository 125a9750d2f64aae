package nn

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var ErrActivationNotFound = errors.New("activation not found")

type Activation int

const (
	Linear Activation = iota
	ReLU
	Sigmoid
	Tanh
)

var activationNames = map[Activation]string{
	Linear:  "linear",
	ReLU:    "relu",
	Sigmoid: "sigmoid",
	Tanh:    "tanh",
}

func (a Activation) String() string {
	if name, ok := activationNames[a]; ok {
		return name
	}
	return fmt.Sprintf("activation(%d)", int(a))
}

func (a Activation) Valid() bool {
	_, ok := activationNames[a]
	return ok
}

// Apply evaluates φ(x).
func (a Activation) Apply(x float64) float64 {
	switch a {
	case ReLU:
		if x > 0 {
			return x
		}
		return 0
	case Sigmoid:
		return 1.0 / (1.0 + math.Exp(-x))
	case Tanh:
		return math.Tanh(x)
	default:
		return x
	}
}

// Derivative evaluates φ'(x) given the pre-activation x and its activated
// value y = φ(x). Sigmoid and tanh are expressed through y.
func (a Activation) Derivative(x, y float64) float64 {
	switch a {
	case ReLU:
		if x > 0 {
			return 1
		}
		return 0
	case Sigmoid:
		return y * (1 - y)
	case Tanh:
		return 1 - y*y
	default:
		return 1
	}
}

func ParseActivation(name string) (Activation, error) {
	switch name {
	case "linear", "identity":
		return Linear, nil
	case "relu":
		return ReLU, nil
	case "sigmoid":
		return Sigmoid, nil
	case "tanh":
		return Tanh, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrActivationNotFound, name)
	}
}

func ListActivations() []string {
	names := make([]string, 0, len(activationNames))
	for _, name := range activationNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
