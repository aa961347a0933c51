package ops

import "github.com/kiln-ml/kiln/internal/tensor"

// SumOp represents a full reduction: output = sum(x), shape {1}.
//
// Every input element contributes with weight 1, so the backward pass
// broadcasts the scalar output gradient across the input shape.
type SumOp struct{ base }

// NewSumOp creates a new SumOp.
func NewSumOp(x, output *tensor.RawTensor) *SumOp {
	return &SumOp{base{inputs: []*tensor.RawTensor{x}, output: output}}
}

// Backward broadcasts the scalar gradient to the input shape.
func (op *SumOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	x := op.inputs[0]

	var g float64
	switch outputGrad.DType() {
	case tensor.Float32:
		g = float64(outputGrad.AsFloat32()[0])
	case tensor.Float64:
		g = outputGrad.AsFloat64()[0]
	}

	return []*tensor.RawTensor{fill(x.Shape(), x.DType(), x.Device(), g)}
}

// SumDimOp represents a reduction sum along one dimension.
type SumDimOp struct {
	base
	dim     int
	keepDim bool
}

// NewSumDimOp creates a new SumDimOp.
func NewSumDimOp(x, output *tensor.RawTensor, dim int, keepDim bool) *SumDimOp {
	return &SumDimOp{
		base:    base{inputs: []*tensor.RawTensor{x}, output: output},
		dim:     dim,
		keepDim: keepDim,
	}
}

// Backward broadcasts the output gradient back across the reduced dimension.
func (op *SumDimOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	x := op.inputs[0]
	grad := outputGrad

	if !op.keepDim {
		// Reinsert the reduced dimension as size 1 so broadcasting lines up.
		kept := x.Shape().Clone()
		kept[op.dim] = 1
		grad = backend.Reshape(grad, kept)
	}

	// grad (dim size 1) + zeros (full shape) broadcasts the gradient.
	zeros := fill(x.Shape(), x.DType(), x.Device(), 0)
	return []*tensor.RawTensor{backend.Add(grad, zeros)}
}

// MeanDimOp represents a mean reduction along one dimension.
// Like SumDimOp, with the gradient scaled by 1/size.
type MeanDimOp struct {
	base
	dim     int
	keepDim bool
}

// NewMeanDimOp creates a new MeanDimOp.
func NewMeanDimOp(x, output *tensor.RawTensor, dim int, keepDim bool) *MeanDimOp {
	return &MeanDimOp{
		base:    base{inputs: []*tensor.RawTensor{x}, output: output},
		dim:     dim,
		keepDim: keepDim,
	}
}

// Backward broadcasts and scales the output gradient by 1/size(dim).
func (op *MeanDimOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	x := op.inputs[0]
	size := float64(x.Shape()[op.dim])

	grad := backend.DivScalar(outputGrad, size)
	if !op.keepDim {
		kept := x.Shape().Clone()
		kept[op.dim] = 1
		grad = backend.Reshape(grad, kept)
	}

	zeros := fill(x.Shape(), x.DType(), x.Device(), 0)
	return []*tensor.RawTensor{backend.Add(grad, zeros)}
}
