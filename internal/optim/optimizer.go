// Package optim implements gradient-based parameter update rules and
// learning-rate schedules.
//
// Optimizers are constructed from hyperparameters alone and bound to a model
// later through CreateSlots, once the parameter set is final. Binding twice,
// or binding an empty set, is an ordering bug and is reported as
// ErrMisorderedInit.
package optim

import (
	"errors"
	"fmt"

	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// ErrMisorderedInit reports that optimizer slot creation happened at the
// wrong point in the model lifecycle.
var ErrMisorderedInit = errors.New("misordered initialization")

// Optimizer applies gradient updates to a bound set of parameters.
//
// Step consumes one gradient per bound parameter, in binding order, and
// increments Iterations exactly once per call.
type Optimizer[B tensor.Backend] interface {
	// CreateSlots binds the finalized parameter set and allocates any
	// per-parameter state (momentum, moments). It must be called exactly
	// once, with a non-empty set, before the first Step.
	CreateSlots(params []*nn.Parameter[B]) error

	// SlotsCreated reports whether CreateSlots has run.
	SlotsCreated() bool

	// Step applies one update. grads[i] pairs with the i-th bound parameter.
	Step(grads []*tensor.RawTensor) error

	// Iterations returns the number of updates applied so far.
	Iterations() int64

	// LearningRate returns the base learning rate, before any schedule.
	LearningRate() float32

	// SetLearningRate replaces the base learning rate.
	SetLearningRate(lr float32)

	// StateDict exposes the optimizer's slot variables keyed by
	// "<slot>/<parameter name>", for checkpoint inspection.
	StateDict() map[string]*tensor.RawTensor
}

// slotState is the binding and bookkeeping shared by the concrete optimizers.
type slotState[B tensor.Backend] struct {
	params     []*nn.Parameter[B]
	iterations int64
	lr         float32
	schedule   Schedule
}

func (s *slotState[B]) bind(params []*nn.Parameter[B]) error {
	if s.params != nil {
		return fmt.Errorf("%w: optimizer slots already created", ErrMisorderedInit)
	}
	if len(params) == 0 {
		return fmt.Errorf("%w: cannot create optimizer slots before model variables exist", ErrMisorderedInit)
	}
	s.params = params
	return nil
}

func (s *slotState[B]) checkStep(grads []*tensor.RawTensor) error {
	if s.params == nil {
		return fmt.Errorf("%w: optimizer step before slot creation", ErrMisorderedInit)
	}
	if len(grads) != len(s.params) {
		return fmt.Errorf("optimizer step: got %d gradients for %d parameters", len(grads), len(s.params))
	}
	return nil
}

// effectiveLR is the rate used for the current update. When a schedule is
// attached it is consulted with the update count before the increment, so the
// first update sees step 0.
func (s *slotState[B]) effectiveLR() float32 {
	if s.schedule != nil {
		return s.schedule.LearningRate(s.iterations)
	}
	return s.lr
}

func (s *slotState[B]) SlotsCreated() bool      { return s.params != nil }
func (s *slotState[B]) Iterations() int64       { return s.iterations }
func (s *slotState[B]) LearningRate() float32   { return s.lr }
func (s *slotState[B]) SetLearningRate(lr float32) { s.lr = lr }
