// Copyright 2025 Kiln ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autodiff provides reverse-mode automatic differentiation.
//
// The Backend decorator wraps any compute backend and records operations on
// a gradient tape; Backward walks the tape to produce gradients.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	y := x.Mul(x)
//	grads := autodiff.Backward(y, backend)
package autodiff

import (
	"github.com/kiln-ml/kiln/internal/autodiff"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Backend wraps another backend and adds gradient tracking.
type Backend[B tensor.Backend] = autodiff.Backend[B]

// BackwardCapable is the constraint for backends supporting a backward pass.
type BackwardCapable = autodiff.BackwardCapable

// GradientTape records operations for reverse-mode differentiation.
type GradientTape = autodiff.GradientTape

// New creates an autodiff Backend wrapping the given backend.
func New[B tensor.Backend](backend B) *Backend[B] {
	return autodiff.New(backend)
}

// Backward computes gradients of t with respect to every recorded tensor.
func Backward[T tensor.DType, B BackwardCapable](t *tensor.Tensor[T, B], backend B) map[*tensor.RawTensor]*tensor.RawTensor {
	return autodiff.Backward(t, backend)
}
