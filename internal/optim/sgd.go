package optim

import (
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// SGD implements stochastic gradient descent with optional momentum.
//
// With momentum m the velocity update is v = m*v + g and the parameter
// update is p -= lr * v.
type SGD[B tensor.Backend] struct {
	slotState[B]

	momentum   float32
	velocities []*tensor.RawTensor
}

// NewSGD creates an SGD optimizer. Parameters are bound later with
// CreateSlots.
func NewSGD[B tensor.Backend](lr, momentum float32) *SGD[B] {
	s := &SGD[B]{momentum: momentum}
	s.lr = lr
	return s
}

// WithSchedule attaches a learning-rate schedule consulted on every step.
func (s *SGD[B]) WithSchedule(sched Schedule) *SGD[B] {
	s.schedule = sched
	return s
}

// CreateSlots binds the parameter set and, when momentum is enabled,
// allocates one zero velocity buffer per parameter.
func (s *SGD[B]) CreateSlots(params []*nn.Parameter[B]) error {
	if err := s.bind(params); err != nil {
		return err
	}
	if s.momentum != 0 {
		s.velocities = make([]*tensor.RawTensor, len(params))
		for i, p := range params {
			raw := p.Tensor().Raw()
			s.velocities[i] = tensor.MustRaw(raw.Shape(), raw.DType(), raw.Device())
		}
	}
	return nil
}

// Step applies one SGD update to every bound parameter.
func (s *SGD[B]) Step(grads []*tensor.RawTensor) error {
	if err := s.checkStep(grads); err != nil {
		return err
	}
	lr := s.effectiveLR()

	for i, p := range s.params {
		data := p.Tensor().Raw().AsFloat32()
		grad := grads[i].AsFloat32()

		if s.momentum != 0 {
			vel := s.velocities[i].AsFloat32()
			for j := range data {
				vel[j] = s.momentum*vel[j] + grad[j]
				data[j] -= lr * vel[j]
			}
		} else {
			for j := range data {
				data[j] -= lr * grad[j]
			}
		}
	}

	s.iterations++
	return nil
}

// StateDict returns the momentum velocities keyed by parameter name.
func (s *SGD[B]) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor, len(s.velocities))
	for i, v := range s.velocities {
		state["velocity/"+s.params[i].Name()] = v
	}
	return state
}
