// Package cpu implements the reference CPU backend for the Kiln training core.
package cpu

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// CPUBackend implements tensor operations on the CPU in pure Go.
//
// All operations allocate fresh result tensors; inputs are never modified,
// which keeps recorded computation graphs valid for the autodiff backend.
type CPUBackend struct {
	device tensor.Device
}

// New creates a new CPU backend.
func New() *CPUBackend {
	return &CPUBackend{
		device: tensor.CPU,
	}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("add", a, b, func(x, y float64) float64 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("sub", a, b, func(x, y float64) float64 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("mul", a, b, func(x, y float64) float64 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (cpu *CPUBackend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("div", a, b, func(x, y float64) float64 { return x / y })
}

// binary applies fn element-wise over a and b with broadcasting.
func (cpu *CPUBackend) binary(name string, a, b *tensor.RawTensor, fn func(x, y float64) float64) *tensor.RawTensor {
	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}

	result, err := tensor.NewRaw(outShape, a.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", name, err))
	}

	if !needsBroadcast && a.Shape().Equal(b.Shape()) {
		// Fast path: same shape, direct element loop.
		switch a.DType() {
		case tensor.Float32:
			av, bv, rv := a.AsFloat32(), b.AsFloat32(), result.AsFloat32()
			for i := range rv {
				rv[i] = float32(fn(float64(av[i]), float64(bv[i])))
			}
		case tensor.Float64:
			av, bv, rv := a.AsFloat64(), b.AsFloat64(), result.AsFloat64()
			for i := range rv {
				rv[i] = fn(av[i], bv[i])
			}
		default:
			panic(fmt.Sprintf("%s: unsupported dtype %s", name, a.DType()))
		}
		return result
	}

	binaryWithBroadcast(name, result, a, b, outShape, fn)
	return result
}

// binaryWithBroadcast applies fn over broadcast inputs.
func binaryWithBroadcast(name string, result, a, b *tensor.RawTensor, outShape tensor.Shape, fn func(x, y float64) float64) {
	outStrides := outShape.ComputeStrides()
	n := outShape.NumElements()

	for i := 0; i < n; i++ {
		ai := broadcastIndex(i, outShape, outStrides, a.Shape())
		bi := broadcastIndex(i, outShape, outStrides, b.Shape())

		switch a.DType() {
		case tensor.Float32:
			result.AsFloat32()[i] = float32(fn(float64(a.AsFloat32()[ai]), float64(b.AsFloat32()[bi])))
		case tensor.Float64:
			result.AsFloat64()[i] = fn(a.AsFloat64()[ai], b.AsFloat64()[bi])
		default:
			panic(fmt.Sprintf("%s: unsupported dtype %s", name, a.DType()))
		}
	}
}

// broadcastIndex maps a flat index in the output shape to the corresponding
// flat index in a (possibly smaller) source shape, NumPy alignment from the right.
func broadcastIndex(flat int, outShape tensor.Shape, outStrides []int, srcShape tensor.Shape) int {
	srcStrides := srcShape.ComputeStrides()
	srcIdx := 0
	temp := flat
	for d := 0; d < len(outShape); d++ {
		coord := temp / outStrides[d]
		temp %= outStrides[d]

		srcDim := d - (len(outShape) - len(srcShape))
		if srcDim >= 0 && srcDim < len(srcShape) {
			if srcShape[srcDim] == 1 {
				coord = 0
			}
			srcIdx += coord * srcStrides[srcDim]
		}
	}
	return srcIdx
}
