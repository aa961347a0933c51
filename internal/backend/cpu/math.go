package cpu

import (
	"fmt"
	"math"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// unary applies fn element-wise to x, producing a new tensor.
func (cpu *CPUBackend) unary(name string, x *tensor.RawTensor, fn func(v float64) float64) *tensor.RawTensor {
	result, err := tensor.NewRaw(x.Shape(), x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", name, err))
	}

	switch x.DType() {
	case tensor.Float32:
		xv, rv := x.AsFloat32(), result.AsFloat32()
		for i := range rv {
			rv[i] = float32(fn(float64(xv[i])))
		}
	case tensor.Float64:
		xv, rv := x.AsFloat64(), result.AsFloat64()
		for i := range rv {
			rv[i] = fn(xv[i])
		}
	default:
		panic(fmt.Sprintf("%s: unsupported dtype %s", name, x.DType()))
	}

	return result
}

// Exp computes the element-wise exponential.
func (cpu *CPUBackend) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("exp", x, math.Exp)
}

// Log computes the element-wise natural logarithm.
func (cpu *CPUBackend) Log(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("log", x, math.Log)
}

// Sqrt computes the element-wise square root.
func (cpu *CPUBackend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("sqrt", x, math.Sqrt)
}

// Abs computes the element-wise absolute value.
func (cpu *CPUBackend) Abs(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("abs", x, math.Abs)
}

// ReLU applies max(0, x) element-wise.
func (cpu *CPUBackend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("relu", x, func(v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	})
}

// AddScalar adds a scalar to every element.
func (cpu *CPUBackend) AddScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	return cpu.unary("add_scalar", x, func(v float64) float64 { return v + scalar })
}

// SubScalar subtracts a scalar from every element.
func (cpu *CPUBackend) SubScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	return cpu.unary("sub_scalar", x, func(v float64) float64 { return v - scalar })
}

// MulScalar multiplies every element by a scalar.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	return cpu.unary("mul_scalar", x, func(v float64) float64 { return v * scalar })
}

// DivScalar divides every element by a scalar.
func (cpu *CPUBackend) DivScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	return cpu.unary("div_scalar", x, func(v float64) float64 { return v / scalar })
}

// Softmax applies softmax along the given dimension.
//
// Implemented for the common 2D case (dim must address the last dimension of
// a 1D or 2D tensor). Uses the max-subtraction trick for numerical stability.
func (cpu *CPUBackend) Softmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	shape := x.Shape()
	if dim < 0 {
		dim = len(shape) + dim
	}
	if len(shape) > 2 || dim != len(shape)-1 {
		panic(fmt.Sprintf("softmax: only last-dimension softmax on 1D/2D tensors is supported, got shape %v dim %d", shape, dim))
	}
	if x.DType() != tensor.Float32 {
		panic(fmt.Sprintf("softmax: unsupported dtype %s", x.DType()))
	}

	rows, cols := 1, shape[len(shape)-1]
	if len(shape) == 2 {
		rows = shape[0]
	}

	result, err := tensor.NewRaw(shape, x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("softmax: failed to create result tensor: %v", err))
	}

	xv, rv := x.AsFloat32(), result.AsFloat32()
	for r := 0; r < rows; r++ {
		row := xv[r*cols : (r+1)*cols]
		out := rv[r*cols : (r+1)*cols]

		maxVal := row[0]
		for _, v := range row {
			if v > maxVal {
				maxVal = v
			}
		}

		var sum float32
		for i, v := range row {
			e := float32(math.Exp(float64(v - maxVal)))
			out[i] = e
			sum += e
		}
		for i := range out {
			out[i] /= sum
		}
	}

	return result
}

// CrossEntropy computes the mean softmax cross-entropy over a batch.
//
// logits has shape [batch, classes] (float32) and targets holds class indices
// with shape [batch] (int64). The result is a single-element tensor.
func (cpu *CPUBackend) CrossEntropy(logits, targets *tensor.RawTensor) *tensor.RawTensor {
	shape := logits.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("cross_entropy: logits must be 2D [batch, classes], got %v", shape))
	}
	if targets.DType() != tensor.Int64 {
		panic(fmt.Sprintf("cross_entropy: targets must be int64, got %s", targets.DType()))
	}
	batch, classes := shape[0], shape[1]
	if targets.NumElements() != batch {
		panic(fmt.Sprintf("cross_entropy: targets length %d does not match batch %d", targets.NumElements(), batch))
	}

	probs := cpu.Softmax(logits, 1)
	pv := probs.AsFloat32()
	tv := targets.AsInt64()

	result, err := tensor.NewRaw(tensor.Shape{1}, tensor.Float32, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("cross_entropy: failed to create result tensor: %v", err))
	}

	var total float64
	for r := 0; r < batch; r++ {
		cls := int(tv[r])
		if cls < 0 || cls >= classes {
			panic(fmt.Sprintf("cross_entropy: target class %d out of range [0, %d)", cls, classes))
		}
		p := float64(pv[r*classes+cls])
		// Clamp to avoid log(0) on confident wrong predictions.
		if p < 1e-12 {
			p = 1e-12
		}
		total -= math.Log(p)
	}
	result.AsFloat32()[0] = float32(total / float64(batch))

	return result
}
