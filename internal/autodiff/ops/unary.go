package ops

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// ExpOp represents the element-wise exponential: output = exp(x).
// d(exp(x))/dx = exp(x) = output.
type ExpOp struct{ base }

// NewExpOp creates a new ExpOp.
func NewExpOp(x, output *tensor.RawTensor) *ExpOp {
	return &ExpOp{base{inputs: []*tensor.RawTensor{x}, output: output}}
}

// Backward computes grad * output.
func (op *ExpOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Mul(outputGrad, op.output)}
}

// LogOp represents the element-wise natural logarithm: output = log(x).
// d(log(x))/dx = 1/x.
type LogOp struct{ base }

// NewLogOp creates a new LogOp.
func NewLogOp(x, output *tensor.RawTensor) *LogOp {
	return &LogOp{base{inputs: []*tensor.RawTensor{x}, output: output}}
}

// Backward computes grad / x.
func (op *LogOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Div(outputGrad, op.inputs[0])}
}

// SqrtOp represents the element-wise square root: output = sqrt(x).
// d(sqrt(x))/dx = 1 / (2 * sqrt(x)) = 1 / (2 * output).
type SqrtOp struct{ base }

// NewSqrtOp creates a new SqrtOp.
func NewSqrtOp(x, output *tensor.RawTensor) *SqrtOp {
	return &SqrtOp{base{inputs: []*tensor.RawTensor{x}, output: output}}
}

// Backward computes grad / (2 * output).
func (op *SqrtOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	twice := backend.MulScalar(op.output, 2)
	return []*tensor.RawTensor{backend.Div(outputGrad, twice)}
}

// AbsOp represents the element-wise absolute value: output = |x|.
// d|x|/dx = sign(x); the subgradient at 0 is taken as 0.
type AbsOp struct{ base }

// NewAbsOp creates a new AbsOp.
func NewAbsOp(x, output *tensor.RawTensor) *AbsOp {
	return &AbsOp{base{inputs: []*tensor.RawTensor{x}, output: output}}
}

// Backward computes grad * sign(x).
func (op *AbsOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	x := op.inputs[0]
	sign, err := tensor.NewRaw(x.Shape(), x.DType(), x.Device())
	if err != nil {
		panic(fmt.Sprintf("abs backward: %v", err))
	}

	switch x.DType() {
	case tensor.Float32:
		xv, sv := x.AsFloat32(), sign.AsFloat32()
		for i, v := range xv {
			switch {
			case v > 0:
				sv[i] = 1
			case v < 0:
				sv[i] = -1
			}
		}
	case tensor.Float64:
		xv, sv := x.AsFloat64(), sign.AsFloat64()
		for i, v := range xv {
			switch {
			case v > 0:
				sv[i] = 1
			case v < 0:
				sv[i] = -1
			}
		}
	default:
		panic(fmt.Sprintf("abs backward: unsupported dtype %s", x.DType()))
	}

	return []*tensor.RawTensor{backend.Mul(outputGrad, sign)}
}

// ReLUOp represents the rectified linear unit: output = max(0, x).
// Gradient passes through where x > 0 and is blocked elsewhere.
type ReLUOp struct{ base }

// NewReLUOp creates a new ReLUOp.
func NewReLUOp(x, output *tensor.RawTensor) *ReLUOp {
	return &ReLUOp{base{inputs: []*tensor.RawTensor{x}, output: output}}
}

// Backward masks the output gradient by the positive mask of x.
func (op *ReLUOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	x := op.inputs[0]
	mask, err := tensor.NewRaw(x.Shape(), x.DType(), x.Device())
	if err != nil {
		panic(fmt.Sprintf("relu backward: %v", err))
	}

	switch x.DType() {
	case tensor.Float32:
		xv, mv := x.AsFloat32(), mask.AsFloat32()
		for i, v := range xv {
			if v > 0 {
				mv[i] = 1
			}
		}
	case tensor.Float64:
		xv, mv := x.AsFloat64(), mask.AsFloat64()
		for i, v := range xv {
			if v > 0 {
				mv[i] = 1
			}
		}
	default:
		panic(fmt.Sprintf("relu backward: unsupported dtype %s", x.DType()))
	}

	return []*tensor.RawTensor{backend.Mul(outputGrad, mask)}
}
