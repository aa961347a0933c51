// Package nn implements neural network building blocks for the Kiln training core.
//
// This package provides:
//   - Parameter / ParameterSet: trainable parameters with stable identity
//   - Module interface: base interface for all layers
//   - Linear: fully connected layer with optional deferred allocation
//   - Loss helpers: MSE and cross-entropy
//
// Design inspired by PyTorch's nn.Module, adapted for Go generics.
package nn

import (
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Type parameter B must satisfy the tensor.Backend interface.
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns all trainable parameters of this module.
	// A lazily-built module returns an empty slice until its first Forward.
	Parameters() []*Parameter[B]
}
