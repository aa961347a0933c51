package nn

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Linear implements a fully connected (dense) layer: y = x @ W.T + b.
//
//   - x: [batch, in_features]
//   - W: [out_features, in_features], Xavier-initialized
//   - b: [out_features], zero-initialized
//   - y: [batch, out_features]
//
// A Linear can be created with a known input width (NewLinear) or with the
// input width deferred (NewLazyLinear). In the deferred case the weight and
// bias are allocated on the first Forward call from the input's trailing
// dimension; Parameters() is empty until then. This is what lets a model run
// a single dry-run forward pass to materialize its parameter set.
type Linear[B tensor.Backend] struct {
	name        string
	inFeatures  int // 0 until known, for lazy layers
	outFeatures int
	weight      *Parameter[B]
	bias        *Parameter[B]
	backend     B
}

// NewLinear creates a Linear layer with eagerly allocated parameters.
func NewLinear[B tensor.Backend](name string, inFeatures, outFeatures int, backend B) *Linear[B] {
	l := &Linear[B]{
		name:        name,
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		backend:     backend,
	}
	l.allocate()
	return l
}

// NewLazyLinear creates a Linear layer whose input width (and therefore its
// parameters) is resolved on the first Forward call.
func NewLazyLinear[B tensor.Backend](name string, outFeatures int, backend B) *Linear[B] {
	return &Linear[B]{
		name:        name,
		outFeatures: outFeatures,
		backend:     backend,
	}
}

// allocate creates the weight and bias tensors. Called once.
func (l *Linear[B]) allocate() {
	weightShape := tensor.Shape{l.outFeatures, l.inFeatures}
	l.weight = NewParameter(l.name+".weight", Xavier(l.inFeatures, l.outFeatures, weightShape, l.backend))
	l.bias = NewParameter(l.name+".bias", Zeros(tensor.Shape{l.outFeatures}, l.backend))
}

// Built reports whether the layer's parameters have been allocated.
func (l *Linear[B]) Built() bool {
	return l.weight != nil
}

// Forward computes y = x @ W.T + b.
//
// Input shape: [batch, in_features]. For a lazy layer the first call fixes
// in_features from the input's trailing dimension.
func (l *Linear[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	inputShape := input.Shape()
	if len(inputShape) != 2 {
		panic(fmt.Sprintf("linear %q: expected 2D input [batch, features], got shape %v", l.name, inputShape))
	}

	if l.weight == nil {
		l.inFeatures = inputShape[1]
		l.allocate()
	}
	if inputShape[1] != l.inFeatures {
		panic(fmt.Sprintf("linear %q: expected input with %d features, got %d", l.name, l.inFeatures, inputShape[1]))
	}

	// [batch, in] @ [in, out] = [batch, out]
	output := input.MatMul(l.weight.Tensor().Transpose())

	// Broadcast bias as [1, out].
	bias := l.bias.Tensor().Reshape(1, l.outFeatures)
	return output.Add(bias)
}

// Parameters returns [weight, bias], or nothing before lazy allocation.
func (l *Linear[B]) Parameters() []*Parameter[B] {
	if l.weight == nil {
		return nil
	}
	return []*Parameter[B]{l.weight, l.bias}
}

// Weight returns the weight parameter (nil before lazy allocation).
func (l *Linear[B]) Weight() *Parameter[B] {
	return l.weight
}

// Bias returns the bias parameter (nil before lazy allocation).
func (l *Linear[B]) Bias() *Parameter[B] {
	return l.bias
}

// OutFeatures returns the number of output features.
func (l *Linear[B]) OutFeatures() int {
	return l.outFeatures
}
