package train

import (
	"fmt"
	"sync/atomic"

	"github.com/kiln-ml/kiln/internal/optim"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// StepCounter is the user-visible training step. It advances by exactly one
// per committed parameter update, never on accumulating calls.
type StepCounter struct {
	v atomic.Int64
}

// Value returns the current step.
func (c *StepCounter) Value() int64 { return c.v.Load() }

func (c *StepCounter) increment() { c.v.Add(1) }

// DelayedUpdater applies gradients through an optimizer, optionally
// accumulating several gradient batches into one committed update.
//
// With accumCount = N, each Apply call adds its gradients into internal sum
// buffers; on the N-th call the optimizer steps once with the summed
// gradients, the buffers reset and the step counter advances by one. The
// committed update is identical to a single update computed from the sum of
// the N gradient batches. With accumCount = 1 every call commits immediately.
type DelayedUpdater[B tensor.Backend] struct {
	opt        optim.Optimizer[B]
	step       *StepCounter
	accumCount int

	buffers []*tensor.RawTensor
	pending int
}

// NewDelayedUpdater wires an optimizer to a step counter. accumCount must be
// at least 1.
func NewDelayedUpdater[B tensor.Backend](opt optim.Optimizer[B], accumCount int, step *StepCounter) (*DelayedUpdater[B], error) {
	if accumCount < 1 {
		return nil, fmt.Errorf("delayed updater: accumulation count must be >= 1, got %d", accumCount)
	}
	return &DelayedUpdater[B]{
		opt:        opt,
		step:       step,
		accumCount: accumCount,
	}, nil
}

// Apply records one gradient batch, committing an update when the
// accumulation count is reached. It reports whether this call committed.
//
// Parameters are only mutated on a committing call; accumulating calls touch
// neither parameters nor the step counter.
func (u *DelayedUpdater[B]) Apply(grads []*tensor.RawTensor) (bool, error) {
	if !u.opt.SlotsCreated() {
		return false, fmt.Errorf("%w: gradients applied before optimizer slot creation", optim.ErrMisorderedInit)
	}

	if u.accumCount == 1 {
		if err := u.opt.Step(grads); err != nil {
			return false, err
		}
		u.step.increment()
		return true, nil
	}

	if err := u.accumulate(grads); err != nil {
		return false, err
	}
	if u.pending < u.accumCount {
		return false, nil
	}

	if err := u.opt.Step(u.buffers); err != nil {
		return false, err
	}
	for _, b := range u.buffers {
		b.Zero()
	}
	u.pending = 0
	u.step.increment()
	return true, nil
}

// Pending returns the number of gradient batches accumulated since the last
// commit.
func (u *DelayedUpdater[B]) Pending() int { return u.pending }

// Slots exposes the accumulation buffers, one per parameter, so an external
// persistence layer can snapshot mid-accumulation state. Nil until the first
// accumulating Apply.
func (u *DelayedUpdater[B]) Slots() []*tensor.RawTensor { return u.buffers }

func (u *DelayedUpdater[B]) accumulate(grads []*tensor.RawTensor) error {
	if u.buffers == nil {
		u.buffers = make([]*tensor.RawTensor, len(grads))
		for i, g := range grads {
			u.buffers[i] = tensor.MustRaw(g.Shape(), g.DType(), g.Device())
		}
	}
	if len(grads) != len(u.buffers) {
		return fmt.Errorf("delayed updater: got %d gradients, want %d", len(grads), len(u.buffers))
	}
	for i, g := range grads {
		if !g.Shape().Equal(u.buffers[i].Shape()) {
			return fmt.Errorf("delayed updater: gradient %d shape %v does not match %v", i, g.Shape(), u.buffers[i].Shape())
		}
		dst := u.buffers[i].AsFloat32()
		for j, v := range g.AsFloat32() {
			dst[j] += v
		}
	}
	u.pending++
	return nil
}
