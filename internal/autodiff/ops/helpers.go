package ops

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// reduceBroadcast reduces a gradient tensor to match the target shape.
// This is necessary when broadcasting was used in the forward pass.
//
// Example:
//
//	Forward: a[1,4] + b[3,4] -> c[3,4]  (a was broadcast along dim 0)
//	Backward: grad_c[3,4] -> grad_a[1,4] (sum along dim 0)
func reduceBroadcast(grad *tensor.RawTensor, targetShape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	gradShape := grad.Shape()

	if gradShape.Equal(targetShape) {
		// Clone so later in-place accumulation never aliases a shared gradient.
		return grad.Clone()
	}

	// NumPy broadcasting aligns shapes from the right: sum away leading
	// dimensions first, then any dimension where the target is 1.
	result := grad
	for len(result.Shape()) > len(targetShape) {
		result = backend.SumDim(result, 0, false)
	}

	resShape := result.Shape()
	for d := 0; d < len(targetShape); d++ {
		if targetShape[d] == 1 && resShape[d] > 1 {
			result = backend.SumDim(result, d, true)
			resShape = result.Shape()
		}
	}

	if !result.Shape().Equal(targetShape) {
		result = backend.Reshape(result, targetShape)
	}

	return result
}

// fill creates a tensor of the given shape filled with a constant.
func fill(shape tensor.Shape, dtype tensor.DataType, device tensor.Device, value float64) *tensor.RawTensor {
	result, err := tensor.NewRaw(shape, dtype, device)
	if err != nil {
		panic(fmt.Sprintf("ops: failed to create tensor: %v", err))
	}

	switch dtype {
	case tensor.Float32:
		data := result.AsFloat32()
		for i := range data {
			data[i] = float32(value)
		}
	case tensor.Float64:
		data := result.AsFloat64()
		for i := range data {
			data[i] = value
		}
	default:
		panic(fmt.Sprintf("ops: unsupported dtype %s", dtype))
	}

	return result
}
