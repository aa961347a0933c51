// Package autodiff implements automatic differentiation using the decorator pattern.
//
// Backend wraps any tensor.Backend implementation (CPU today, GPU later) and
// adds gradient tracking through a GradientTape:
//   - each forward operation is recorded with its input/output tensors
//   - reverse-mode AD walks the tape backwards applying the chain rule
//
// Usage:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	x := tensor.FromSlice([]float32{2.0}, tensor.Shape{1}, backend)
//	y := x.Mul(x) // y = x²
//	grads := autodiff.Backward(y, backend)
package autodiff

import (
	"github.com/kiln-ml/kiln/internal/autodiff/ops"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Backend wraps another backend and adds automatic differentiation.
// It implements the tensor.Backend interface and records every differentiable
// operation on a GradientTape. The wrapped backend must never alias input
// buffers in results (the CPU backend guarantees this), otherwise recorded
// input values would be corrupted before the backward pass.
//
// Type parameter B must satisfy the tensor.Backend interface.
type Backend[B tensor.Backend] struct {
	inner B
	tape  *GradientTape
}

// New creates a new autodiff Backend wrapping the given backend.
func New[B tensor.Backend](backend B) *Backend[B] {
	return &Backend[B]{
		inner: backend,
		tape:  NewGradientTape(),
	}
}

// Tape returns the gradient tape for manual control
// (start/stop recording, clearing between steps).
func (b *Backend[B]) Tape() *GradientTape {
	return b.tape
}

// Inner returns the wrapped backend for direct access.
func (b *Backend[B]) Inner() B {
	return b.inner
}

// Name returns the backend name.
func (b *Backend[B]) Name() string {
	return "Autodiff(" + b.inner.Name() + ")"
}

// Device returns the compute device.
func (b *Backend[B]) Device() tensor.Device {
	return b.inner.Device()
}

// Add performs element-wise addition and records the operation.
func (b *Backend[B]) Add(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Add(x, y)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewAddOp(x, y, result))
	}
	return result
}

// Sub performs element-wise subtraction and records the operation.
func (b *Backend[B]) Sub(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sub(x, y)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewSubOp(x, y, result))
	}
	return result
}

// Mul performs element-wise multiplication and records the operation.
func (b *Backend[B]) Mul(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Mul(x, y)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewMulOp(x, y, result))
	}
	return result
}

// Div performs element-wise division and records the operation.
func (b *Backend[B]) Div(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Div(x, y)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewDivOp(x, y, result))
	}
	return result
}

// MatMul performs matrix multiplication and records the operation.
func (b *Backend[B]) MatMul(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.MatMul(x, y)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewMatMulOp(x, y, result))
	}
	return result
}

// AddScalar adds a scalar element-wise and records the operation.
func (b *Backend[B]) AddScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	result := b.inner.AddScalar(x, scalar)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewScalarOp(x, result, 1))
	}
	return result
}

// SubScalar subtracts a scalar element-wise and records the operation.
func (b *Backend[B]) SubScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	result := b.inner.SubScalar(x, scalar)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewScalarOp(x, result, 1))
	}
	return result
}

// MulScalar multiplies by a scalar element-wise and records the operation.
func (b *Backend[B]) MulScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	result := b.inner.MulScalar(x, scalar)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewScalarOp(x, result, scalar))
	}
	return result
}

// DivScalar divides by a scalar element-wise and records the operation.
func (b *Backend[B]) DivScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	result := b.inner.DivScalar(x, scalar)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewScalarOp(x, result, 1/scalar))
	}
	return result
}

// Exp computes the element-wise exponential and records the operation.
func (b *Backend[B]) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Exp(x)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewExpOp(x, result))
	}
	return result
}

// Log computes the element-wise logarithm and records the operation.
func (b *Backend[B]) Log(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Log(x)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewLogOp(x, result))
	}
	return result
}

// Sqrt computes the element-wise square root and records the operation.
func (b *Backend[B]) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sqrt(x)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewSqrtOp(x, result))
	}
	return result
}

// Abs computes the element-wise absolute value and records the operation.
func (b *Backend[B]) Abs(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Abs(x)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewAbsOp(x, result))
	}
	return result
}

// ReLU applies the rectified linear unit and records the operation.
func (b *Backend[B]) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.ReLU(x)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewReLUOp(x, result))
	}
	return result
}

// Softmax applies softmax along dim and records the operation.
func (b *Backend[B]) Softmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	result := b.inner.Softmax(x, dim)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewSoftmaxOp(x, result, dim))
	}
	return result
}

// CrossEntropy computes mean softmax cross-entropy and records the operation.
func (b *Backend[B]) CrossEntropy(logits, targets *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.CrossEntropy(logits, targets)
	if b.tape.IsRecording() {
		probs := b.inner.Softmax(logits, 1)
		b.tape.Record(ops.NewCrossEntropyOp(logits, targets, probs, result))
	}
	return result
}

// Sum reduces to a single-element tensor and records the operation.
func (b *Backend[B]) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sum(x)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewSumOp(x, result))
	}
	return result
}

// SumDim sums along a dimension and records the operation.
func (b *Backend[B]) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	result := b.inner.SumDim(x, dim, keepDim)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewSumDimOp(x, result, dim, keepDim))
	}
	return result
}

// MeanDim averages along a dimension and records the operation.
func (b *Backend[B]) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	result := b.inner.MeanDim(x, dim, keepDim)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewMeanDimOp(x, result, dim, keepDim))
	}
	return result
}

// Argmax returns indices of maxima; not differentiable, never recorded.
func (b *Backend[B]) Argmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	return b.inner.Argmax(x, dim)
}

// Reshape reshapes a tensor and records the operation.
// Recording matters: without it, gradients would not flow back to reshaped
// parameters (e.g. a bias reshaped for broadcasting).
func (b *Backend[B]) Reshape(x *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	result := b.inner.Reshape(x, newShape)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewReshapeOp(x, result))
	}
	return result
}

// Transpose transposes a tensor and records the operation.
func (b *Backend[B]) Transpose(x *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	result := b.inner.Transpose(x, axes...)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewTransposeOp(x, result, axes))
	}
	return result
}
