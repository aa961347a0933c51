package optim_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ml/kiln/internal/autodiff"
	"github.com/kiln-ml/kiln/internal/backend/cpu"
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/optim"
	"github.com/kiln-ml/kiln/internal/tensor"
)

type Backend = *autodiff.Backend[*cpu.CPUBackend]

func newParam(t *testing.T, backend Backend, name string, values []float32) *nn.Parameter[Backend] {
	t.Helper()
	x, err := tensor.FromSlice(values, tensor.Shape{len(values)}, backend)
	require.NoError(t, err)
	return nn.NewParameter(name, x)
}

func gradOf(t *testing.T, values []float32) *tensor.RawTensor {
	t.Helper()
	g, err := tensor.NewRaw(tensor.Shape{len(values)}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(g.AsFloat32(), values)
	return g
}

func TestSGD_SimpleUpdate(t *testing.T) {
	backend := autodiff.New(cpu.New())
	param := newParam(t, backend, "x", []float32{2})

	opt := optim.NewSGD[Backend](0.1, 0)
	require.NoError(t, opt.CreateSlots([]*nn.Parameter[Backend]{param}))

	require.NoError(t, opt.Step([]*tensor.RawTensor{gradOf(t, []float32{1})}))

	// x = 2 - 0.1*1 = 1.9
	assert.InDelta(t, 1.9, float64(param.Tensor().Data()[0]), 1e-6)
	assert.Equal(t, int64(1), opt.Iterations())
}

func TestSGD_Momentum(t *testing.T) {
	backend := autodiff.New(cpu.New())
	param := newParam(t, backend, "x", []float32{1})

	opt := optim.NewSGD[Backend](0.1, 0.9)
	require.NoError(t, opt.CreateSlots([]*nn.Parameter[Backend]{param}))

	// Step 1: v = 1, x = 1 - 0.1 = 0.9
	require.NoError(t, opt.Step([]*tensor.RawTensor{gradOf(t, []float32{1})}))
	assert.InDelta(t, 0.9, float64(param.Tensor().Data()[0]), 1e-6)

	// Step 2: v = 0.9*1 + 1 = 1.9, x = 0.9 - 0.19 = 0.71
	require.NoError(t, opt.Step([]*tensor.RawTensor{gradOf(t, []float32{1})}))
	assert.InDelta(t, 0.71, float64(param.Tensor().Data()[0]), 1e-6)
}

func TestAdam_FirstStepMovesByLR(t *testing.T) {
	backend := autodiff.New(cpu.New())
	param := newParam(t, backend, "x", []float32{1})

	opt := optim.NewAdam[Backend](0.001, 0, 0, 0)
	require.NoError(t, opt.CreateSlots([]*nn.Parameter[Backend]{param}))
	require.NoError(t, opt.Step([]*tensor.RawTensor{gradOf(t, []float32{0.5})}))

	// After bias correction the first update is ~lr * sign(g).
	got := param.Tensor().Data()[0]
	assert.InDelta(t, 1-0.001, float64(got), 1e-5)
	assert.Equal(t, int64(1), opt.Iterations())
}

func TestAdam_StateDictExposesMoments(t *testing.T) {
	backend := autodiff.New(cpu.New())
	param := newParam(t, backend, "layer.weight", []float32{1, 2})

	opt := optim.NewAdam[Backend](0.01, 0, 0, 0)
	require.NoError(t, opt.CreateSlots([]*nn.Parameter[Backend]{param}))
	require.NoError(t, opt.Step([]*tensor.RawTensor{gradOf(t, []float32{1, 1})}))

	state := opt.StateDict()
	require.Contains(t, state, "m/layer.weight")
	require.Contains(t, state, "v/layer.weight")
	// m = (1-beta1)*g = 0.1
	assert.InDelta(t, 0.1, float64(state["m/layer.weight"].AsFloat32()[0]), 1e-6)
}

func TestCreateSlots_Empty(t *testing.T) {
	opt := optim.NewSGD[Backend](0.1, 0)
	err := opt.CreateSlots(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, optim.ErrMisorderedInit)
	assert.False(t, opt.SlotsCreated())
}

func TestCreateSlots_Twice(t *testing.T) {
	backend := autodiff.New(cpu.New())
	param := newParam(t, backend, "x", []float32{1})

	opt := optim.NewSGD[Backend](0.1, 0)
	require.NoError(t, opt.CreateSlots([]*nn.Parameter[Backend]{param}))

	err := opt.CreateSlots([]*nn.Parameter[Backend]{param})
	require.Error(t, err)
	assert.ErrorIs(t, err, optim.ErrMisorderedInit)
	// The first binding survives.
	assert.True(t, opt.SlotsCreated())
}

func TestStep_BeforeSlots(t *testing.T) {
	opt := optim.NewSGD[Backend](0.1, 0)
	err := opt.Step([]*tensor.RawTensor{gradOf(t, []float32{1})})
	assert.ErrorIs(t, err, optim.ErrMisorderedInit)
}

func TestStep_GradientCountMismatch(t *testing.T) {
	backend := autodiff.New(cpu.New())
	param := newParam(t, backend, "x", []float32{1})

	opt := optim.NewSGD[Backend](0.1, 0)
	require.NoError(t, opt.CreateSlots([]*nn.Parameter[Backend]{param}))

	err := opt.Step(nil)
	assert.Error(t, err)
	assert.Equal(t, int64(0), opt.Iterations())
}

// TestSchedule_ConsultedPerStep verifies the optimizer reads its schedule
// with its own update count, starting at step 0.
func TestSchedule_ConsultedPerStep(t *testing.T) {
	backend := autodiff.New(cpu.New())
	param := newParam(t, backend, "x", []float32{0})

	rates := []float32{0.5, 0.25}
	sched := optim.ScheduleFunc(func(step int64) float32 {
		return rates[step]
	})
	opt := optim.NewSGD[Backend](0.1, 0).WithSchedule(sched)
	require.NoError(t, opt.CreateSlots([]*nn.Parameter[Backend]{param}))

	require.NoError(t, opt.Step([]*tensor.RawTensor{gradOf(t, []float32{1})}))
	assert.InDelta(t, -0.5, float64(param.Tensor().Data()[0]), 1e-6)

	require.NoError(t, opt.Step([]*tensor.RawTensor{gradOf(t, []float32{1})}))
	assert.InDelta(t, -0.75, float64(param.Tensor().Data()[0]), 1e-6)
}

func TestAdam_ConvergesOnQuadratic(t *testing.T) {
	backend := autodiff.New(cpu.New())
	param := newParam(t, backend, "x", []float32{5})

	opt := optim.NewAdam[Backend](0.1, 0, 0, 0)
	require.NoError(t, opt.CreateSlots([]*nn.Parameter[Backend]{param}))

	// Minimize f(x) = x² with exact gradient 2x.
	for i := 0; i < 200; i++ {
		g := gradOf(t, []float32{2 * param.Tensor().Data()[0]})
		require.NoError(t, opt.Step([]*tensor.RawTensor{g}))
	}
	assert.Less(t, math.Abs(float64(param.Tensor().Data()[0])), 0.1)
}
