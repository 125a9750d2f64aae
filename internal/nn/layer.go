package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"esgcore/internal/model"
)

// Layer is a dense layer computing φ(W·x + b).
type Layer struct {
	weights    *mat.Dense
	biases     *mat.VecDense
	activation Activation
}

// Cache holds what a forward pass must retain for the matching backward pass.
type Cache struct {
	Input  []float64
	Pre    []float64
	Output []float64
}

type LayerGradients struct {
	Weights *mat.Dense
	Biases  *mat.VecDense
}

// NewLayer draws weights uniformly from [-1/√inputs, 1/√inputs] and zeroes
// the biases.
func NewLayer(inputs, outputs int, activation Activation, rnd *rand.Rand) (*Layer, error) {
	if inputs <= 0 {
		return nil, model.Misconfigured("layer.inputs", "must be > 0, got %d", inputs)
	}
	if outputs <= 0 {
		return nil, model.Misconfigured("layer.outputs", "must be > 0, got %d", outputs)
	}
	if !activation.Valid() {
		return nil, model.Misconfigured("layer.activation", "unsupported activation %s", activation)
	}
	if rnd == nil {
		return nil, model.Misconfigured("layer.rand", "random source is required")
	}

	limit := 1 / math.Sqrt(float64(inputs))
	data := make([]float64, outputs*inputs)
	for i := range data {
		data[i] = (rnd.Float64()*2 - 1) * limit
	}
	return &Layer{
		weights:    mat.NewDense(outputs, inputs, data),
		biases:     mat.NewVecDense(outputs, nil),
		activation: activation,
	}, nil
}

func newLayerFromParameters(top model.LayerTopology, params model.LayerParameters) (*Layer, error) {
	activation, err := ParseActivation(top.Activation)
	if err != nil {
		return nil, model.Misconfigured("layer.activation", "%v", err)
	}
	if top.Inputs <= 0 || top.Outputs <= 0 {
		return nil, model.Misconfigured("layer.shape", "invalid shape %dx%d", top.Outputs, top.Inputs)
	}
	if len(params.Weights) != top.Inputs*top.Outputs {
		return nil, model.Misconfigured("layer.weights", "want %d values, got %d", top.Inputs*top.Outputs, len(params.Weights))
	}
	if len(params.Biases) != top.Outputs {
		return nil, model.Misconfigured("layer.biases", "want %d values, got %d", top.Outputs, len(params.Biases))
	}
	return &Layer{
		weights:    mat.NewDense(top.Outputs, top.Inputs, append([]float64(nil), params.Weights...)),
		biases:     mat.NewVecDense(top.Outputs, append([]float64(nil), params.Biases...)),
		activation: activation,
	}, nil
}

func (l *Layer) Inputs() int {
	_, c := l.weights.Dims()
	return c
}

func (l *Layer) Outputs() int {
	r, _ := l.weights.Dims()
	return r
}

func (l *Layer) Activation() Activation {
	return l.activation
}

// Forward computes the layer output for input, which must have Inputs()
// elements. The returned cache does not alias input.
func (l *Layer) Forward(input []float64) ([]float64, Cache) {
	x := mat.NewVecDense(len(input), append([]float64(nil), input...))

	var pre mat.VecDense
	pre.MulVec(l.weights, x)
	pre.AddVec(&pre, l.biases)

	preData := append([]float64(nil), pre.RawVector().Data...)
	out := make([]float64, len(preData))
	for i, v := range preData {
		out[i] = l.activation.Apply(v)
	}
	return out, Cache{Input: x.RawVector().Data, Pre: preData, Output: append([]float64(nil), out...)}
}

func (l *Layer) NewGradients() LayerGradients {
	return LayerGradients{
		Weights: mat.NewDense(l.Outputs(), l.Inputs(), nil),
		Biases:  mat.NewVecDense(l.Outputs(), nil),
	}
}

// Backward returns the gradients for one sample and the gradient with
// respect to the layer input.
func (l *Layer) Backward(cache Cache, outputGradient []float64) (LayerGradients, []float64) {
	grads := l.NewGradients()
	inputGradient := l.BackwardInto(cache, outputGradient, grads)
	return grads, inputGradient
}

// BackwardInto adds this sample's gradients to acc and returns the gradient
// with respect to the layer input:
//
//	δ  = outputGradient ⊙ φ'(pre)
//	dW += δ ⊗ input
//	db += δ
//	dx  = Wᵀ·δ
func (l *Layer) BackwardInto(cache Cache, outputGradient []float64, acc LayerGradients) []float64 {
	delta := make([]float64, len(cache.Pre))
	for i := range delta {
		delta[i] = outputGradient[i] * l.activation.Derivative(cache.Pre[i], cache.Output[i])
	}
	d := mat.NewVecDense(len(delta), delta)
	x := mat.NewVecDense(len(cache.Input), cache.Input)

	acc.Weights.RankOne(acc.Weights, 1, d, x)
	acc.Biases.AddVec(acc.Biases, d)

	var inputGradient mat.VecDense
	inputGradient.MulVec(l.weights.T(), d)
	return append([]float64(nil), inputGradient.RawVector().Data...)
}

func (l *Layer) topology() model.LayerTopology {
	return model.LayerTopology{Inputs: l.Inputs(), Outputs: l.Outputs(), Activation: l.activation.String()}
}

func (l *Layer) parameters() model.LayerParameters {
	return model.LayerParameters{
		Weights: append([]float64(nil), l.weightData()...),
		Biases:  append([]float64(nil), l.biasData()...),
	}
}

// weightData is the live row-major weight storage.
func (l *Layer) weightData() []float64 {
	return l.weights.RawMatrix().Data
}

func (l *Layer) biasData() []float64 {
	return l.biases.RawVector().Data
}
