// Copyright 2025 Kiln ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package train provides the model lifecycle and optimization loop: lazy
// variable creation, loss and gradient computation, delayed gradient
// application and step accounting.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	model := NewMyModel(pipeline, backend)
//	_ = model.Initialize(dataCfg)
//	session, err := train.NewSession(model, optimCfg)
//	loss, committed, err := session.TrainStep(features, labels)
package train

import (
	"github.com/kiln-ml/kiln/internal/autodiff"
	"github.com/kiln-ml/kiln/internal/config"
	"github.com/kiln-ml/kiln/internal/data"
	"github.com/kiln-ml/kiln/internal/optim"
	"github.com/kiln-ml/kiln/internal/tensor"
	"github.com/kiln-ml/kiln/internal/train"
)

// Sentinel errors for lifecycle violations.
var (
	ErrUninitializedModel = train.ErrUninitializedModel
	ErrMissingLabels      = train.ErrMissingLabels
)

// Mode selects the execution behavior of a model's forward pass.
type Mode = train.Mode

// Forward pass modes.
const (
	ModeTrain   Mode = train.ModeTrain
	ModeEval    Mode = train.ModeEval
	ModePredict Mode = train.ModePredict
)

// Model is a trainable model over a backward-capable backend.
type Model[B autodiff.BackwardCapable] = train.Model[B]

// BaseModel carries the state and default behavior shared by models.
type BaseModel[B autodiff.BackwardCapable] = train.BaseModel[B]

// NewBaseModel creates the shared model state.
func NewBaseModel[B autodiff.BackwardCapable](name string, pipeline data.ExamplesPipeline, backend B) BaseModel[B] {
	return train.NewBaseModel(name, pipeline, backend)
}

// Loss pairs the optimized scalar with an optional reporting variant.
type Loss[B tensor.Backend] = train.Loss[B]

// NewLoss creates a loss where the optimized and reported values coincide.
func NewLoss[B tensor.Backend](value *tensor.Tensor[float32, B]) *Loss[B] {
	return train.NewLoss(value)
}

// CreateVariables materializes the model's parameters and, when opt is
// non-nil, the optimizer's slot variables. Idempotent.
func CreateVariables[B autodiff.BackwardCapable](m Model[B], opt optim.Optimizer[B]) error {
	return train.CreateVariables(m, opt)
}

// ComputeGradients differentiates the loss with respect to the model's
// parameters, applying configured regularization and clipping.
func ComputeGradients[B autodiff.BackwardCapable](m Model[B], loss *Loss[B], cfg config.Optimization) ([]*tensor.RawTensor, error) {
	return train.ComputeGradients(m, loss, cfg)
}

// ClipByGlobalNorm rescales grads in place so their combined L2 norm does
// not exceed threshold.
func ClipByGlobalNorm(grads []*tensor.RawTensor, threshold float64) float64 {
	return train.ClipByGlobalNorm(grads, threshold)
}

// StepCounter is the user-visible training step.
type StepCounter = train.StepCounter

// DelayedUpdater accumulates gradient batches into committed updates.
type DelayedUpdater[B tensor.Backend] = train.DelayedUpdater[B]

// NewDelayedUpdater wires an optimizer to a step counter.
func NewDelayedUpdater[B tensor.Backend](opt optim.Optimizer[B], accumCount int, step *StepCounter) (*DelayedUpdater[B], error) {
	return train.NewDelayedUpdater(opt, accumCount, step)
}

// Session drives one training run.
type Session[B autodiff.BackwardCapable] = train.Session[B]

// NewSession builds the optimizer, creates the model's variables and returns
// a session ready to train.
func NewSession[B autodiff.BackwardCapable](model Model[B], cfg config.Optimization) (*Session[B], error) {
	return train.NewSession(model, cfg)
}
