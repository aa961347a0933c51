package ops

import "github.com/kiln-ml/kiln/internal/tensor"

// ReshapeOp represents a reshape. The gradient is reshaped back to the input
// shape; without this record, gradients would stop at reshaped parameters
// (e.g. a bias reshaped for broadcasting).
type ReshapeOp struct{ base }

// NewReshapeOp creates a new ReshapeOp.
func NewReshapeOp(x, output *tensor.RawTensor) *ReshapeOp {
	return &ReshapeOp{base{inputs: []*tensor.RawTensor{x}, output: output}}
}

// Backward reshapes the output gradient to the input shape.
func (op *ReshapeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Reshape(outputGrad, op.inputs[0].Shape())}
}

// TransposeOp represents a dimension permutation.
type TransposeOp struct {
	base
	axes []int
}

// NewTransposeOp creates a new TransposeOp recording the applied permutation.
func NewTransposeOp(x, output *tensor.RawTensor, axes []int) *TransposeOp {
	return &TransposeOp{
		base: base{inputs: []*tensor.RawTensor{x}, output: output},
		axes: axes,
	}
}

// Backward applies the inverse permutation to the output gradient.
func (op *TransposeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	if len(op.axes) == 0 {
		// Plain 2D transpose is its own inverse.
		return []*tensor.RawTensor{backend.Transpose(outputGrad)}
	}

	inverse := make([]int, len(op.axes))
	for i, ax := range op.axes {
		inverse[ax] = i
	}
	return []*tensor.RawTensor{backend.Transpose(outputGrad, inverse...)}
}
