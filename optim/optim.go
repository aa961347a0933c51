// Copyright 2025 Kiln ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides gradient-based optimizers and learning-rate
// schedules.
//
// Optimizers are constructed from hyperparameters alone; CreateSlots binds
// them to a model's finalized parameter set before the first update.
package optim

import (
	"github.com/kiln-ml/kiln/internal/config"
	"github.com/kiln-ml/kiln/internal/optim"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// ErrMisorderedInit reports slot creation at the wrong lifecycle point.
var ErrMisorderedInit = optim.ErrMisorderedInit

// Optimizer applies gradient updates to a bound set of parameters.
type Optimizer[B tensor.Backend] = optim.Optimizer[B]

// SGD implements stochastic gradient descent with optional momentum.
type SGD[B tensor.Backend] = optim.SGD[B]

// NewSGD creates an SGD optimizer.
//
// Example:
//
//	opt := optim.NewSGD[*autodiff.Backend[*cpu.CPUBackend]](0.01, 0.9)
//	// ... build the model ...
//	err := opt.CreateSlots(model.Params().Slice())
func NewSGD[B tensor.Backend](lr, momentum float32) *SGD[B] {
	return optim.NewSGD[B](lr, momentum)
}

// Adam implements the Adam update rule with bias correction.
type Adam[B tensor.Backend] = optim.Adam[B]

// NewAdam creates an Adam optimizer. Zero hyperparameters select the usual
// defaults (0.9, 0.999, 1e-8).
func NewAdam[B tensor.Backend](lr, beta1, beta2, epsilon float32) *Adam[B] {
	return optim.NewAdam[B](lr, beta1, beta2, epsilon)
}

// New builds an optimizer, with its learning-rate schedule, from a resolved
// optimization configuration.
func New[B tensor.Backend](cfg config.Optimization) (Optimizer[B], error) {
	return optim.New[B](cfg)
}

// Schedules

// Schedule maps a training step to a learning rate.
type Schedule = optim.Schedule

// ScheduleFunc adapts a function to the Schedule interface.
type ScheduleFunc = optim.ScheduleFunc

// ScheduleWrapper applies the common step transforms (start offset, step
// duration, minimum floor) around an inner schedule.
type ScheduleWrapper = optim.ScheduleWrapper

// ExponentialDecay decays the rate by a factor every fixed interval.
type ExponentialDecay = optim.ExponentialDecay

// RsqrtDecay scales the rate by the inverse square root of the step.
type RsqrtDecay = optim.RsqrtDecay

// NoamDecay implements linear warmup followed by rsqrt decay.
type NoamDecay = optim.NoamDecay

// CosineAnnealing decays the rate along a half cosine.
type CosineAnnealing = optim.CosineAnnealing
