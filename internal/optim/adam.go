package optim

import (
	"math"

	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Adam implements the Adam update rule with bias correction and optional
// decoupled weight decay (AdamW).
type Adam[B tensor.Backend] struct {
	slotState[B]

	beta1       float32
	beta2       float32
	epsilon     float32
	weightDecay float32

	m []*tensor.RawTensor // first moment estimates
	v []*tensor.RawTensor // second moment estimates
}

// NewAdam creates an Adam optimizer with the given hyperparameters. Zero
// values for beta1, beta2 and epsilon select the usual defaults
// (0.9, 0.999, 1e-8). Parameters are bound later with CreateSlots.
func NewAdam[B tensor.Backend](lr, beta1, beta2, epsilon float32) *Adam[B] {
	if beta1 == 0 {
		beta1 = 0.9
	}
	if beta2 == 0 {
		beta2 = 0.999
	}
	if epsilon == 0 {
		epsilon = 1e-8
	}
	a := &Adam[B]{beta1: beta1, beta2: beta2, epsilon: epsilon}
	a.lr = lr
	return a
}

// WithWeightDecay enables decoupled weight decay applied directly to the
// parameters, scaled by the effective learning rate.
func (a *Adam[B]) WithWeightDecay(decay float32) *Adam[B] {
	a.weightDecay = decay
	return a
}

// WithSchedule attaches a learning-rate schedule consulted on every step.
func (a *Adam[B]) WithSchedule(sched Schedule) *Adam[B] {
	a.schedule = sched
	return a
}

// CreateSlots binds the parameter set and allocates zeroed moment buffers.
func (a *Adam[B]) CreateSlots(params []*nn.Parameter[B]) error {
	if err := a.bind(params); err != nil {
		return err
	}
	a.m = make([]*tensor.RawTensor, len(params))
	a.v = make([]*tensor.RawTensor, len(params))
	for i, p := range params {
		raw := p.Tensor().Raw()
		a.m[i] = tensor.MustRaw(raw.Shape(), raw.DType(), raw.Device())
		a.v[i] = tensor.MustRaw(raw.Shape(), raw.DType(), raw.Device())
	}
	return nil
}

// Step applies one Adam update to every bound parameter.
func (a *Adam[B]) Step(grads []*tensor.RawTensor) error {
	if err := a.checkStep(grads); err != nil {
		return err
	}
	lr := a.effectiveLR()

	t := float64(a.iterations + 1)
	correction1 := float32(1 - math.Pow(float64(a.beta1), t))
	correction2 := float32(1 - math.Pow(float64(a.beta2), t))

	for i, p := range a.params {
		data := p.Tensor().Raw().AsFloat32()
		grad := grads[i].AsFloat32()
		m := a.m[i].AsFloat32()
		v := a.v[i].AsFloat32()

		for j := range data {
			g := grad[j]
			m[j] = a.beta1*m[j] + (1-a.beta1)*g
			v[j] = a.beta2*v[j] + (1-a.beta2)*g*g

			mHat := m[j] / correction1
			vHat := v[j] / correction2

			update := lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.epsilon)
			if a.weightDecay != 0 {
				update += lr * a.weightDecay * data[j]
			}
			data[j] -= update
		}
	}

	a.iterations++
	return nil
}

// StateDict returns the moment estimates keyed by parameter name.
func (a *Adam[B]) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor, 2*len(a.m))
	for i := range a.m {
		name := a.params[i].Name()
		state["m/"+name] = a.m[i]
		state["v/"+name] = a.v[i]
	}
	return state
}
