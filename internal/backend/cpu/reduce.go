package cpu

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Sum reduces the whole tensor to a single-element tensor.
func (cpu *CPUBackend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	result, err := tensor.NewRaw(tensor.Shape{1}, x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("sum: failed to create result tensor: %v", err))
	}

	switch x.DType() {
	case tensor.Float32:
		var sum float32
		for _, v := range x.AsFloat32() {
			sum += v
		}
		result.AsFloat32()[0] = sum
	case tensor.Float64:
		var sum float64
		for _, v := range x.AsFloat64() {
			sum += v
		}
		result.AsFloat64()[0] = sum
	default:
		panic(fmt.Sprintf("sum: unsupported dtype %s", x.DType()))
	}

	return result
}

// SumDim sums along a dimension.
func (cpu *CPUBackend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return cpu.reduceDim("sum_dim", x, dim, keepDim, false)
}

// MeanDim averages along a dimension.
func (cpu *CPUBackend) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return cpu.reduceDim("mean_dim", x, dim, keepDim, true)
}

// reduceDim accumulates along dim; divides by the dimension size when mean is set.
func (cpu *CPUBackend) reduceDim(name string, x *tensor.RawTensor, dim int, keepDim, mean bool) *tensor.RawTensor {
	shape := x.Shape()
	if dim < 0 {
		dim = len(shape) + dim
	}
	if dim < 0 || dim >= len(shape) {
		panic(fmt.Sprintf("%s: invalid dimension %d for shape %v", name, dim, shape))
	}
	if x.DType() != tensor.Float32 && x.DType() != tensor.Float64 {
		panic(fmt.Sprintf("%s: unsupported dtype %s", name, x.DType()))
	}

	// Reduced shape with dim kept as 1, squeezed afterwards when !keepDim.
	outShape := shape.Clone()
	outShape[dim] = 1

	result, err := tensor.NewRaw(outShape, x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", name, err))
	}

	strides := shape.ComputeStrides()
	outStrides := outShape.ComputeStrides()
	n := shape.NumElements()

	for i := 0; i < n; i++ {
		// Map flat input index to flat reduced index (dim coordinate forced to 0).
		outIdx := 0
		temp := i
		for d := 0; d < len(shape); d++ {
			coord := temp / strides[d]
			temp %= strides[d]
			if d == dim {
				coord = 0
			}
			outIdx += coord * outStrides[d]
		}

		switch x.DType() {
		case tensor.Float32:
			result.AsFloat32()[outIdx] += x.AsFloat32()[i]
		case tensor.Float64:
			result.AsFloat64()[outIdx] += x.AsFloat64()[i]
		}
	}

	if mean {
		size := float64(shape[dim])
		switch x.DType() {
		case tensor.Float32:
			rv := result.AsFloat32()
			for i := range rv {
				rv[i] /= float32(size)
			}
		case tensor.Float64:
			rv := result.AsFloat64()
			for i := range rv {
				rv[i] /= size
			}
		}
	}

	if !keepDim {
		squeezed := make(tensor.Shape, 0, len(outShape)-1)
		for d, size := range outShape {
			if d != dim {
				squeezed = append(squeezed, size)
			}
		}
		if len(squeezed) == 0 {
			squeezed = tensor.Shape{1}
		}
		return cpu.Reshape(result, squeezed)
	}

	return result
}

// Argmax returns the index of the maximum value along dim as an int64 tensor.
//
// Implemented for the common classification case: last dimension of a 2D
// tensor, producing shape [batch].
func (cpu *CPUBackend) Argmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	shape := x.Shape()
	if dim < 0 {
		dim = len(shape) + dim
	}
	if len(shape) != 2 || dim != 1 {
		panic(fmt.Sprintf("argmax: only last-dimension argmax on 2D tensors is supported, got shape %v dim %d", shape, dim))
	}
	if x.DType() != tensor.Float32 {
		panic(fmt.Sprintf("argmax: unsupported dtype %s", x.DType()))
	}

	rows, cols := shape[0], shape[1]
	result, err := tensor.NewRaw(tensor.Shape{rows}, tensor.Int64, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("argmax: failed to create result tensor: %v", err))
	}

	xv, rv := x.AsFloat32(), result.AsInt64()
	for r := 0; r < rows; r++ {
		row := xv[r*cols : (r+1)*cols]
		best := 0
		for i, v := range row {
			if v > row[best] {
				best = i
			}
		}
		rv[r] = int64(best)
	}

	return result
}
