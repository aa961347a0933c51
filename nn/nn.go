// Copyright 2025 Kiln ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides neural network building blocks: parameters, modules,
// layers and loss helpers.
package nn

import (
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Module interface defines the common interface for all neural network modules.
type Module[B tensor.Backend] = nn.Module[B]

// Parameter represents a trainable parameter in a model.
type Parameter[B tensor.Backend] = nn.Parameter[B]

// NewParameter creates a new parameter with the given name and tensor.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return nn.NewParameter(name, t)
}

// ParameterSet is an ordered collection of named parameters.
type ParameterSet[B tensor.Backend] = nn.ParameterSet[B]

// NewParameterSet creates an empty parameter set.
func NewParameterSet[B tensor.Backend]() *ParameterSet[B] {
	return nn.NewParameterSet[B]()
}

// Layers

// Linear represents a fully connected (dense) layer.
type Linear[B tensor.Backend] = nn.Linear[B]

// NewLinear creates a linear layer with eagerly allocated parameters.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	layer := nn.NewLinear("output", 784, 10, backend)
func NewLinear[B tensor.Backend](name string, inFeatures, outFeatures int, backend B) *Linear[B] {
	return nn.NewLinear(name, inFeatures, outFeatures, backend)
}

// NewLazyLinear creates a linear layer whose input width is resolved on the
// first forward pass.
func NewLazyLinear[B tensor.Backend](name string, outFeatures int, backend B) *Linear[B] {
	return nn.NewLazyLinear(name, outFeatures, backend)
}

// Initialization

// Xavier creates a Glorot-uniform initialized tensor.
func Xavier[B tensor.Backend](fanIn, fanOut int, shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return nn.Xavier(fanIn, fanOut, shape, backend)
}

// Zeros creates a zero-initialized tensor.
func Zeros[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return nn.Zeros(shape, backend)
}

// Losses

// MSE computes mean squared error.
func MSE[B tensor.Backend](predictions, targets *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return nn.MSE(predictions, targets)
}

// CrossEntropy computes mean softmax cross-entropy.
func CrossEntropy[B tensor.Backend](logits *tensor.Tensor[float32, B], targets *tensor.Tensor[int64, B]) *tensor.Tensor[float32, B] {
	return nn.CrossEntropy(logits, targets)
}
