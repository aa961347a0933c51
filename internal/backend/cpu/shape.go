package cpu

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Reshape returns a copy of t with a new shape. Element count must match.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	if t.NumElements() != newShape.NumElements() {
		panic(fmt.Sprintf("reshape: cannot reshape %v (%d elements) to %v (%d elements)",
			t.Shape(), t.NumElements(), newShape, newShape.NumElements()))
	}

	result, err := tensor.NewRaw(newShape, t.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("reshape: failed to create result tensor: %v", err))
	}
	copy(result.Data(), t.Data())

	return result
}

// Transpose permutes the dimensions of t. With no axes it transposes a 2D
// tensor; otherwise axes must be a permutation of the dimensions.
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()

	if len(axes) == 0 {
		if len(shape) != 2 {
			panic(fmt.Sprintf("transpose: default transpose requires a 2D tensor, got %v", shape))
		}
		axes = []int{1, 0}
	}
	if len(axes) != len(shape) {
		panic(fmt.Sprintf("transpose: expected %d axes, got %d", len(shape), len(axes)))
	}

	newShape := make(tensor.Shape, len(shape))
	seen := make([]bool, len(shape))
	for i, ax := range axes {
		if ax < 0 || ax >= len(shape) || seen[ax] {
			panic(fmt.Sprintf("transpose: invalid axes %v for shape %v", axes, shape))
		}
		seen[ax] = true
		newShape[i] = shape[ax]
	}

	result, err := tensor.NewRaw(newShape, t.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("transpose: failed to create result tensor: %v", err))
	}

	srcStrides := shape.ComputeStrides()
	dstStrides := newShape.ComputeStrides()
	n := shape.NumElements()
	elemSize := t.DType().Size()
	src, dst := t.Data(), result.Data()

	for i := 0; i < n; i++ {
		// Destination coordinates -> source flat index through the permutation.
		srcIdx := 0
		temp := i
		for d := 0; d < len(newShape); d++ {
			coord := temp / dstStrides[d]
			temp %= dstStrides[d]
			srcIdx += coord * srcStrides[axes[d]]
		}
		copy(dst[i*elemSize:(i+1)*elemSize], src[srcIdx*elemSize:(srcIdx+1)*elemSize])
	}

	return result
}
