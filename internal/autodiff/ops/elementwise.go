package ops

import "github.com/kiln-ml/kiln/internal/tensor"

// AddOp represents element-wise addition: output = a + b.
//
// d(a+b)/da = d(a+b)/db = 1, so the output gradient flows to both inputs,
// reduced along any broadcast dimensions.
type AddOp struct{ base }

// NewAddOp creates a new AddOp.
func NewAddOp(a, b, output *tensor.RawTensor) *AddOp {
	return &AddOp{base{inputs: []*tensor.RawTensor{a, b}, output: output}}
}

// Backward computes input gradients for addition.
func (op *AddOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	a, b := op.inputs[0], op.inputs[1]
	return []*tensor.RawTensor{
		reduceBroadcast(outputGrad, a.Shape(), backend),
		reduceBroadcast(outputGrad, b.Shape(), backend),
	}
}

// SubOp represents element-wise subtraction: output = a - b.
type SubOp struct{ base }

// NewSubOp creates a new SubOp.
func NewSubOp(a, b, output *tensor.RawTensor) *SubOp {
	return &SubOp{base{inputs: []*tensor.RawTensor{a, b}, output: output}}
}

// Backward computes input gradients for subtraction: grad_a = g, grad_b = -g.
func (op *SubOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	a, b := op.inputs[0], op.inputs[1]
	negGrad := backend.MulScalar(outputGrad, -1)
	return []*tensor.RawTensor{
		reduceBroadcast(outputGrad, a.Shape(), backend),
		reduceBroadcast(negGrad, b.Shape(), backend),
	}
}

// MulOp represents element-wise multiplication: output = a * b.
type MulOp struct{ base }

// NewMulOp creates a new MulOp.
func NewMulOp(a, b, output *tensor.RawTensor) *MulOp {
	return &MulOp{base{inputs: []*tensor.RawTensor{a, b}, output: output}}
}

// Backward computes input gradients: grad_a = g*b, grad_b = g*a.
func (op *MulOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	a, b := op.inputs[0], op.inputs[1]
	gradA := reduceBroadcast(backend.Mul(outputGrad, b), a.Shape(), backend)
	gradB := reduceBroadcast(backend.Mul(outputGrad, a), b.Shape(), backend)
	return []*tensor.RawTensor{gradA, gradB}
}

// DivOp represents element-wise division: output = a / b.
type DivOp struct{ base }

// NewDivOp creates a new DivOp.
func NewDivOp(a, b, output *tensor.RawTensor) *DivOp {
	return &DivOp{base{inputs: []*tensor.RawTensor{a, b}, output: output}}
}

// Backward computes input gradients: grad_a = g/b, grad_b = -g*a/b².
func (op *DivOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	a, b := op.inputs[0], op.inputs[1]

	gradA := reduceBroadcast(backend.Div(outputGrad, b), a.Shape(), backend)

	bSquared := backend.Mul(b, b)
	gradB := backend.MulScalar(backend.Div(backend.Mul(outputGrad, a), bSquared), -1)
	gradB = reduceBroadcast(gradB, b.Shape(), backend)

	return []*tensor.RawTensor{gradA, gradB}
}

// ScalarOp represents an element-wise operation with a scalar constant.
// The gradient of the input is the output gradient times gradScale:
//
//	x + c, x - c: gradScale = 1
//	x * c:        gradScale = c
//	x / c:        gradScale = 1/c
type ScalarOp struct {
	base
	gradScale float64
}

// NewScalarOp creates a new ScalarOp with the given input gradient scale.
func NewScalarOp(x, output *tensor.RawTensor, gradScale float64) *ScalarOp {
	return &ScalarOp{
		base:      base{inputs: []*tensor.RawTensor{x}, output: output},
		gradScale: gradScale,
	}
}

// Backward scales the output gradient by the recorded constant factor.
func (op *ScalarOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	if op.gradScale == 1 {
		return []*tensor.RawTensor{outputGrad.Clone()}
	}
	return []*tensor.RawTensor{backend.MulScalar(outputGrad, op.gradScale)}
}
