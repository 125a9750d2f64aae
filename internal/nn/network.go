package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"esgcore/internal/model"
)

var ErrInputSize = errors.New("input size mismatch")

type LayerSpec struct {
	Size       int
	Activation Activation
}

// Topology fixes the shape of a Network. The output layer always has
// model.ESGOutputs neurons.
type Topology struct {
	Inputs int
	Hidden []LayerSpec
	Output Activation
}

func (t Topology) Validate() error {
	if t.Inputs <= 0 {
		return model.Misconfigured("topology.inputs", "must be > 0, got %d", t.Inputs)
	}
	if len(t.Hidden) == 0 {
		return model.Misconfigured("topology.hidden", "at least one hidden layer is required")
	}
	for i, h := range t.Hidden {
		if h.Size <= 0 {
			return model.Misconfigured(fmt.Sprintf("topology.hidden[%d].size", i), "must be > 0, got %d", h.Size)
		}
		if !h.Activation.Valid() {
			return model.Misconfigured(fmt.Sprintf("topology.hidden[%d].activation", i), "unsupported activation %s", h.Activation)
		}
	}
	if !t.Output.Valid() {
		return model.Misconfigured("topology.output", "unsupported activation %s", t.Output)
	}
	return nil
}

// Network is an ordered stack of dense layers. Its topology never changes
// after construction; only the Trainer mutates its parameters.
type Network struct {
	layers []*Layer
}

// Trace is the per-layer forward cache needed by Backward.
type Trace []Cache

type Gradients []LayerGradients

func NewNetwork(topology Topology, rnd *rand.Rand) (*Network, error) {
	if err := topology.Validate(); err != nil {
		return nil, err
	}
	if rnd == nil {
		return nil, model.Misconfigured("network.rand", "random source is required")
	}

	layers := make([]*Layer, 0, len(topology.Hidden)+1)
	inputs := topology.Inputs
	for _, h := range topology.Hidden {
		layer, err := NewLayer(inputs, h.Size, h.Activation, rnd)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
		inputs = h.Size
	}
	output, err := NewLayer(inputs, model.ESGOutputs, topology.Output, rnd)
	if err != nil {
		return nil, err
	}
	layers = append(layers, output)
	return newNetwork(layers)
}

func newNetwork(layers []*Layer) (*Network, error) {
	if len(layers) < 2 {
		return nil, model.Misconfigured("network.layers", "need at least one hidden and one output layer, got %d layers", len(layers))
	}
	for i := 0; i+1 < len(layers); i++ {
		if layers[i].Outputs() != layers[i+1].Inputs() {
			return nil, model.Misconfigured(fmt.Sprintf("network.layers[%d]", i+1), "input size %d does not match previous output size %d", layers[i+1].Inputs(), layers[i].Outputs())
		}
	}
	if out := layers[len(layers)-1].Outputs(); out != model.ESGOutputs {
		return nil, model.Misconfigured("network.output", "output layer must have %d neurons, got %d", model.ESGOutputs, out)
	}
	return &Network{layers: layers}, nil
}

func (n *Network) Inputs() int {
	return n.layers[0].Inputs()
}

func (n *Network) Outputs() int {
	return n.layers[len(n.layers)-1].Outputs()
}

func (n *Network) Topology() Topology {
	hidden := make([]LayerSpec, 0, len(n.layers)-1)
	for _, layer := range n.layers[:len(n.layers)-1] {
		hidden = append(hidden, LayerSpec{Size: layer.Outputs(), Activation: layer.Activation()})
	}
	return Topology{
		Inputs: n.Inputs(),
		Hidden: hidden,
		Output: n.layers[len(n.layers)-1].Activation(),
	}
}

// ParameterCount is the total number of weights and biases.
func (n *Network) ParameterCount() int {
	total := 0
	for _, layer := range n.layers {
		total += layer.Outputs()*layer.Inputs() + layer.Outputs()
	}
	return total
}

// Forward runs input through every layer and returns the final activation
// with the per-layer caches.
func (n *Network) Forward(input []float64) ([]float64, Trace, error) {
	if len(input) != n.Inputs() {
		return nil, nil, fmt.Errorf("%w: got %d want %d", ErrInputSize, len(input), n.Inputs())
	}
	trace := make(Trace, len(n.layers))
	current := input
	for i, layer := range n.layers {
		current, trace[i] = layer.Forward(current)
	}
	return current, trace, nil
}

func (n *Network) NewGradients() Gradients {
	grads := make(Gradients, len(n.layers))
	for i, layer := range n.layers {
		grads[i] = layer.NewGradients()
	}
	return grads
}

func (n *Network) Backward(trace Trace, lossGradient []float64) (Gradients, error) {
	grads := n.NewGradients()
	if err := n.BackwardInto(trace, lossGradient, grads); err != nil {
		return nil, err
	}
	return grads, nil
}

// BackwardInto propagates lossGradient from the output layer back to the
// input layer, each layer consuming the gradient its successor returned, and
// adds the parameter gradients to acc.
func (n *Network) BackwardInto(trace Trace, lossGradient []float64, acc Gradients) error {
	if len(trace) != len(n.layers) || len(acc) != len(n.layers) {
		return fmt.Errorf("trace/gradient depth mismatch: layers=%d trace=%d grads=%d", len(n.layers), len(trace), len(acc))
	}
	if len(lossGradient) != n.Outputs() {
		return fmt.Errorf("%w: loss gradient has %d values, want %d", ErrInputSize, len(lossGradient), n.Outputs())
	}
	gradient := lossGradient
	for i := len(n.layers) - 1; i >= 0; i-- {
		gradient = n.layers[i].BackwardInto(trace[i], gradient, acc[i])
	}
	return nil
}

// ParameterView exposes the live storage of one layer. Writers must hold the
// owner's write lock.
type ParameterView struct {
	Weights []float64
	Biases  []float64
}

func (n *Network) ParameterViews() []ParameterView {
	views := make([]ParameterView, len(n.layers))
	for i, layer := range n.layers {
		views[i] = ParameterView{Weights: layer.weightData(), Biases: layer.biasData()}
	}
	return views
}

// Checkpoint is a full copy of every layer's parameters.
type Checkpoint []model.LayerParameters

func (n *Network) Checkpoint() Checkpoint {
	cp := make(Checkpoint, len(n.layers))
	for i, layer := range n.layers {
		cp[i] = layer.parameters()
	}
	return cp
}

// Restore copies cp back into the live parameters.
func (n *Network) Restore(cp Checkpoint) error {
	if len(cp) != len(n.layers) {
		return fmt.Errorf("checkpoint has %d layers, network has %d", len(cp), len(n.layers))
	}
	for i, layer := range n.layers {
		w, b := layer.weightData(), layer.biasData()
		if len(cp[i].Weights) != len(w) || len(cp[i].Biases) != len(b) {
			return fmt.Errorf("checkpoint layer %d shape mismatch", i)
		}
	}
	for i, layer := range n.layers {
		copy(layer.weightData(), cp[i].Weights)
		copy(layer.biasData(), cp[i].Biases)
	}
	return nil
}

// NonFiniteError locates the first NaN or Inf parameter.
type NonFiniteError struct {
	Layer int
	Index int
	Bias  bool
	Value float64
}

func (e *NonFiniteError) Error() string {
	kind := "weight"
	if e.Bias {
		kind = "bias"
	}
	return fmt.Sprintf("non-finite %s in layer %d at %d: %v", kind, e.Layer, e.Index, e.Value)
}

func (n *Network) CheckFinite() error {
	for li, layer := range n.layers {
		for i, v := range layer.weightData() {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return &NonFiniteError{Layer: li, Index: i, Value: v}
			}
		}
		for i, v := range layer.biasData() {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return &NonFiniteError{Layer: li, Index: i, Bias: true, Value: v}
			}
		}
	}
	return nil
}
