package train_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ml/kiln/internal/autodiff"
	"github.com/kiln-ml/kiln/internal/backend/cpu"
	"github.com/kiln-ml/kiln/internal/config"
	"github.com/kiln-ml/kiln/internal/data"
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/optim"
	"github.com/kiln-ml/kiln/internal/tensor"
	"github.com/kiln-ml/kiln/internal/train"
)

type Backend = *autodiff.Backend[*cpu.CPUBackend]

// linModel maps features through one lazily allocated linear layer and
// minimizes the mean square of its output. The closed-form gradients make
// it convenient for checking the gradient path end to end.
type linModel struct {
	train.BaseModel[Backend]

	pipeline *data.TensorPipeline
	layer    *nn.Linear[Backend]

	// When set, Build registers a second layer the forward pass never
	// touches.
	withUnusedLayer bool

	// When set, ComputeLoss records extra ops to derive a separate
	// reporting value after the optimization scalar.
	withScaledDisplay bool
}

func newLinModel(t *testing.T, features [][]float32, labels []int64, withUnused bool) *linModel {
	t.Helper()
	pipeline := data.NewTensorPipeline(features, labels, 1)
	backend := autodiff.New(cpu.New())
	m := &linModel{
		BaseModel:       train.NewBaseModel[Backend]("lin", pipeline, backend),
		pipeline:        pipeline,
		withUnusedLayer: withUnused,
	}
	require.NoError(t, m.Initialize(config.Data{}))
	return m
}

func (m *linModel) Build() error {
	if err := m.RequireInitialized(); err != nil {
		return err
	}
	if err := m.pipeline.Build(nil); err != nil {
		return err
	}
	m.layer = nn.NewLazyLinear("out", 1, m.Backend())
	m.AddModule(m.layer)
	if m.withUnusedLayer {
		m.AddModule(nn.NewLinear("spare", 2, 2, m.Backend()))
	}
	m.MarkBuilt()
	return nil
}

func (m *linModel) Forward(features, labels data.Batch, mode train.Mode) (*tensor.Tensor[float32, Backend], *tensor.RawTensor, error) {
	x := tensor.New[float32, Backend](features.Features(), m.Backend())
	out := m.layer.Forward(x)

	var predictions *tensor.RawTensor
	if mode != train.ModeTrain {
		predictions = out.Raw()
	}
	return out, predictions, nil
}

func (m *linModel) ComputeLoss(outputs *tensor.Tensor[float32, Backend], labels data.Batch, mode train.Mode) (*train.Loss[Backend], error) {
	if !m.Unsupervised() {
		if err := m.CheckLabels(labels); err != nil {
			return nil, err
		}
	}
	targets := tensor.Zeros[float32](outputs.Shape(), m.Backend())
	loss := train.NewLoss(nn.MSE(outputs, targets))
	if m.withScaledDisplay {
		loss.Display = loss.Optimization.MulScalar(2)
	}
	return loss, nil
}

// setWeights overwrites the layer parameters with known values.
func (m *linModel) setWeights(w []float32, b float32) {
	copy(m.layer.Weight().Tensor().Data(), w)
	m.layer.Bias().Tensor().Data()[0] = b
}

func oneBatch(t *testing.T, m *linModel) data.Batch {
	t.Helper()
	batch, err := m.pipeline.MakeFeatures([2]int{0, m.pipeline.NumExamples()})
	require.NoError(t, err)
	return batch
}

func TestCreateVariables_DryRunMaterializesParams(t *testing.T) {
	m := newLinModel(t, [][]float32{{1, 2}}, nil, false)
	assert.False(t, m.Built())

	require.NoError(t, train.CreateVariables[Backend](m, nil))

	assert.True(t, m.Built())
	require.Equal(t, 2, m.Params().Len())
	assert.True(t, m.Params().Get("out.weight").Shape().Equal(tensor.Shape{1, 2}))
	assert.True(t, m.Params().Get("out.bias").Shape().Equal(tensor.Shape{1}))

	// The dry run must not leave operations behind.
	assert.Equal(t, 0, m.Backend().GetTape().NumOps())
}

func TestCreateVariables_Idempotent(t *testing.T) {
	m := newLinModel(t, [][]float32{{1, 2}}, nil, false)
	opt := optim.NewSGD[Backend](0.1, 0)

	require.NoError(t, train.CreateVariables[Backend](m, opt))
	weight := m.Params().Get("out.weight").Tensor().Raw()
	bias := m.Params().Get("out.bias").Tensor().Raw()
	assert.True(t, opt.SlotsCreated())

	// Repeat calls change nothing: same identities, same shapes, no error
	// from the already-bound optimizer.
	require.NoError(t, train.CreateVariables[Backend](m, opt))
	require.NoError(t, train.CreateVariables[Backend](m, nil))

	assert.Same(t, weight, m.Params().Get("out.weight").Tensor().Raw())
	assert.Same(t, bias, m.Params().Get("out.bias").Tensor().Raw())
	assert.Equal(t, 2, m.Params().Len())
}

func TestCreateVariables_BuildBeforeInitialize(t *testing.T) {
	pipeline := data.NewTensorPipeline([][]float32{{1}}, nil, 1)
	backend := autodiff.New(cpu.New())
	m := &linModel{
		BaseModel: train.NewBaseModel[Backend]("lin", pipeline, backend),
		pipeline:  pipeline,
	}

	err := train.CreateVariables[Backend](m, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, optim.ErrMisorderedInit)
}

func TestComputeGradients_Analytic(t *testing.T) {
	m := newLinModel(t, [][]float32{{1, 2}}, nil, false)
	require.NoError(t, train.CreateVariables[Backend](m, nil))
	m.setWeights([]float32{0.5, -0.5}, 0.25)

	tape := m.Backend().GetTape()
	tape.StartRecording()
	defer tape.StopRecording()

	batch := oneBatch(t, m)
	out, _, err := m.Forward(batch, nil, train.ModeTrain)
	require.NoError(t, err)
	loss, err := m.ComputeLoss(out, nil, train.ModeTrain)
	require.NoError(t, err)

	grads, err := train.ComputeGradients[Backend](m, loss, config.Optimization{})
	require.NoError(t, err)
	require.Len(t, grads, 2)

	// out = 0.5*1 - 0.5*2 + 0.25 = -0.25; loss = out²
	// dL/dW = 2*out*x = [-0.5, -1.0]; dL/db = 2*out = -0.5
	assert.InDelta(t, -0.5, float64(grads[0].AsFloat32()[0]), 1e-5)
	assert.InDelta(t, -1.0, float64(grads[0].AsFloat32()[1]), 1e-5)
	assert.InDelta(t, -0.5, float64(grads[1].AsFloat32()[0]), 1e-5)

	// The tape is consumed.
	assert.Equal(t, 0, tape.NumOps())
}

func TestComputeGradients_DistinctDisplayValue(t *testing.T) {
	m := newLinModel(t, [][]float32{{1, 2}}, nil, false)
	m.withScaledDisplay = true
	require.NoError(t, train.CreateVariables[Backend](m, nil))
	m.setWeights([]float32{0.5, -0.5}, 0.25)

	tape := m.Backend().GetTape()
	tape.StartRecording()
	defer tape.StopRecording()

	batch := oneBatch(t, m)
	out, _, err := m.Forward(batch, nil, train.ModeTrain)
	require.NoError(t, err)
	loss, err := m.ComputeLoss(out, nil, train.ModeTrain)
	require.NoError(t, err)

	// Reporting sees the doubled value, loss = 0.0625, display = 0.125.
	assert.InDelta(t, 0.0625, float64(loss.Optimization.Item()), 1e-5)
	assert.InDelta(t, 0.125, float64(loss.Reported().Item()), 1e-5)

	// Only the optimization scalar feeds gradients: the display ops were
	// recorded after it and must not rescale them.
	grads, err := train.ComputeGradients[Backend](m, loss, config.Optimization{})
	require.NoError(t, err)
	require.Len(t, grads, 2)
	assert.InDelta(t, -0.5, float64(grads[0].AsFloat32()[0]), 1e-5)
	assert.InDelta(t, -1.0, float64(grads[0].AsFloat32()[1]), 1e-5)
	assert.InDelta(t, -0.5, float64(grads[1].AsFloat32()[0]), 1e-5)
}

func TestComputeGradients_ZeroScaleEqualsUnregularized(t *testing.T) {
	run := func(reg *config.Regularization) []*tensor.RawTensor {
		m := newLinModel(t, [][]float32{{1, 2}}, nil, false)
		require.NoError(t, train.CreateVariables[Backend](m, nil))
		m.setWeights([]float32{0.5, -0.5}, 0.25)

		m.Backend().GetTape().StartRecording()
		defer m.Backend().GetTape().StopRecording()

		batch := oneBatch(t, m)
		out, _, err := m.Forward(batch, nil, train.ModeTrain)
		require.NoError(t, err)
		loss, err := m.ComputeLoss(out, nil, train.ModeTrain)
		require.NoError(t, err)

		grads, err := train.ComputeGradients[Backend](m, loss, config.Optimization{Regularization: reg})
		require.NoError(t, err)
		return grads
	}

	plain := run(nil)
	zeroScale := run(&config.Regularization{Type: "l2", Scale: 0})

	for i := range plain {
		assert.Equal(t, plain[i].AsFloat32(), zeroScale[i].AsFloat32())
	}
}

func TestComputeGradients_L2PenaltyAddsToGradient(t *testing.T) {
	m := newLinModel(t, [][]float32{{1, 2}}, nil, false)
	require.NoError(t, train.CreateVariables[Backend](m, nil))
	m.setWeights([]float32{0.5, -0.5}, 0.25)

	m.Backend().GetTape().StartRecording()
	defer m.Backend().GetTape().StopRecording()

	batch := oneBatch(t, m)
	out, _, err := m.Forward(batch, nil, train.ModeTrain)
	require.NoError(t, err)
	loss, err := m.ComputeLoss(out, nil, train.ModeTrain)
	require.NoError(t, err)

	grads, err := train.ComputeGradients[Backend](m, loss, config.Optimization{
		Regularization: &config.Regularization{Type: "l2", Scale: 0.1},
	})
	require.NoError(t, err)

	// d/dp (0.1 * sum(p²)) = 0.2p on top of the data gradient.
	assert.InDelta(t, -0.5+0.2*0.5, float64(grads[0].AsFloat32()[0]), 1e-5)
	assert.InDelta(t, -1.0+0.2*-0.5, float64(grads[0].AsFloat32()[1]), 1e-5)
	assert.InDelta(t, -0.5+0.2*0.25, float64(grads[1].AsFloat32()[0]), 1e-5)
}

func TestComputeGradients_UnusedParamsGetZeros(t *testing.T) {
	m := newLinModel(t, [][]float32{{1, 2}}, nil, true)
	require.NoError(t, train.CreateVariables[Backend](m, nil))

	m.Backend().GetTape().StartRecording()
	defer m.Backend().GetTape().StopRecording()

	batch := oneBatch(t, m)
	out, _, err := m.Forward(batch, nil, train.ModeTrain)
	require.NoError(t, err)
	loss, err := m.ComputeLoss(out, nil, train.ModeTrain)
	require.NoError(t, err)

	grads, err := train.ComputeGradients[Backend](m, loss, config.Optimization{})
	require.NoError(t, err)
	require.Len(t, grads, 4)

	spareWeight := grads[2]
	assert.True(t, spareWeight.Shape().Equal(tensor.Shape{2, 2}))
	assert.Equal(t, []float32{0, 0, 0, 0}, spareWeight.AsFloat32())
	assert.Equal(t, []float32{0, 0}, grads[3].AsFloat32())
}

func TestComputeGradients_Uninitialized(t *testing.T) {
	m := newLinModel(t, [][]float32{{1}}, nil, false)
	// Variables were never created, so the parameter set is empty.

	backend := m.Backend()
	loss := train.NewLoss(tensor.Zeros[float32](tensor.Shape{1}, backend))

	_, err := train.ComputeGradients[Backend](m, loss, config.Optimization{})
	require.Error(t, err)
	assert.ErrorIs(t, err, train.ErrUninitializedModel)
}

func TestClipByGlobalNorm(t *testing.T) {
	under := []*tensor.RawTensor{
		tensor.MustRaw(tensor.Shape{2}, tensor.Float32, tensor.CPU),
	}
	copy(under[0].AsFloat32(), []float32{0.3, 0.4}) // norm 0.5

	norm := train.ClipByGlobalNorm(under, 1.0)
	assert.InDelta(t, 0.5, norm, 1e-6)
	assert.Equal(t, []float32{0.3, 0.4}, under[0].AsFloat32())

	over := []*tensor.RawTensor{
		tensor.MustRaw(tensor.Shape{1}, tensor.Float32, tensor.CPU),
		tensor.MustRaw(tensor.Shape{1}, tensor.Float32, tensor.CPU),
	}
	over[0].AsFloat32()[0] = 3
	over[1].AsFloat32()[0] = 4 // combined norm 5

	norm = train.ClipByGlobalNorm(over, 1.0)
	assert.InDelta(t, 5.0, norm, 1e-6)

	var clipped float64
	for _, g := range over {
		v := float64(g.AsFloat32()[0])
		clipped += v * v
	}
	assert.InDelta(t, 1.0, clipped, 1e-5) // norm² == threshold²
}

func TestDelayedUpdater_AccumulatesThenCommits(t *testing.T) {
	backend := autodiff.New(cpu.New())
	x, err := tensor.FromSlice([]float32{1}, tensor.Shape{1}, backend)
	require.NoError(t, err)
	param := nn.NewParameter("x", x)

	opt := optim.NewSGD[Backend](0.1, 0)
	require.NoError(t, opt.CreateSlots([]*nn.Parameter[Backend]{param}))

	step := &train.StepCounter{}
	updater, err := train.NewDelayedUpdater[Backend](opt, 3, step)
	require.NoError(t, err)

	apply := func(v float32) bool {
		g := tensor.MustRaw(tensor.Shape{1}, tensor.Float32, tensor.CPU)
		g.AsFloat32()[0] = v
		committed, err := updater.Apply([]*tensor.RawTensor{g})
		require.NoError(t, err)
		return committed
	}

	// Two accumulating calls: no parameter motion, no step.
	assert.False(t, apply(0.5))
	assert.False(t, apply(0.25))
	assert.Equal(t, float32(1), param.Tensor().Data()[0])
	assert.Equal(t, int64(0), step.Value())
	assert.Equal(t, 2, updater.Pending())

	// Third call commits with the summed gradient: 1 - 0.1*(0.5+0.25+0.25).
	assert.True(t, apply(0.25))
	assert.InDelta(t, 0.9, float64(param.Tensor().Data()[0]), 1e-6)
	assert.Equal(t, int64(1), step.Value())
	assert.Equal(t, int64(1), opt.Iterations())
	assert.Equal(t, 0, updater.Pending())

	// The next cycle starts clean.
	assert.False(t, apply(1))
	assert.Equal(t, int64(1), step.Value())
}

func TestDelayedUpdater_CommitEqualsSingleSumStep(t *testing.T) {
	makeParam := func() (*nn.Parameter[Backend], *optim.SGD[Backend]) {
		backend := autodiff.New(cpu.New())
		x, err := tensor.FromSlice([]float32{2, -1}, tensor.Shape{2}, backend)
		require.NoError(t, err)
		p := nn.NewParameter("x", x)
		opt := optim.NewSGD[Backend](0.05, 0.9)
		require.NoError(t, opt.CreateSlots([]*nn.Parameter[Backend]{p}))
		return p, opt
	}

	g := func(values []float32) *tensor.RawTensor {
		r := tensor.MustRaw(tensor.Shape{2}, tensor.Float32, tensor.CPU)
		copy(r.AsFloat32(), values)
		return r
	}

	// Accumulated path.
	pa, oa := makeParam()
	step := &train.StepCounter{}
	updater, err := train.NewDelayedUpdater[Backend](oa, 2, step)
	require.NoError(t, err)
	_, err = updater.Apply([]*tensor.RawTensor{g([]float32{0.1, 0.4})})
	require.NoError(t, err)
	_, err = updater.Apply([]*tensor.RawTensor{g([]float32{0.3, -0.2})})
	require.NoError(t, err)

	// Single step with the summed gradients.
	pb, ob := makeParam()
	require.NoError(t, ob.Step([]*tensor.RawTensor{g([]float32{0.4, 0.2})}))

	assert.InDelta(t, float64(pb.Tensor().Data()[0]), float64(pa.Tensor().Data()[0]), 1e-6)
	assert.InDelta(t, float64(pb.Tensor().Data()[1]), float64(pa.Tensor().Data()[1]), 1e-6)
}

func TestDelayedUpdater_AccumOneCommitsImmediately(t *testing.T) {
	backend := autodiff.New(cpu.New())
	x, err := tensor.FromSlice([]float32{1}, tensor.Shape{1}, backend)
	require.NoError(t, err)
	param := nn.NewParameter("x", x)

	opt := optim.NewSGD[Backend](0.1, 0)
	require.NoError(t, opt.CreateSlots([]*nn.Parameter[Backend]{param}))

	step := &train.StepCounter{}
	updater, err := train.NewDelayedUpdater[Backend](opt, 1, step)
	require.NoError(t, err)

	g := tensor.MustRaw(tensor.Shape{1}, tensor.Float32, tensor.CPU)
	g.AsFloat32()[0] = 1

	committed, err := updater.Apply([]*tensor.RawTensor{g})
	require.NoError(t, err)
	assert.True(t, committed)
	assert.InDelta(t, 0.9, float64(param.Tensor().Data()[0]), 1e-6)
	assert.Equal(t, int64(1), step.Value())
}

func TestDelayedUpdater_BeforeSlotCreation(t *testing.T) {
	opt := optim.NewSGD[Backend](0.1, 0)
	updater, err := train.NewDelayedUpdater[Backend](opt, 1, &train.StepCounter{})
	require.NoError(t, err)

	g := tensor.MustRaw(tensor.Shape{1}, tensor.Float32, tensor.CPU)
	_, err = updater.Apply([]*tensor.RawTensor{g})
	require.Error(t, err)
	assert.ErrorIs(t, err, optim.ErrMisorderedInit)
}

func TestDelayedUpdater_RejectsBadAccumCount(t *testing.T) {
	opt := optim.NewSGD[Backend](0.1, 0)
	_, err := train.NewDelayedUpdater[Backend](opt, 0, &train.StepCounter{})
	assert.Error(t, err)
}

func TestSession_StepDiscipline(t *testing.T) {
	m := newLinModel(t, [][]float32{{1, 2}, {2, 1}}, nil, false)

	session, err := train.NewSession[Backend](m, config.Optimization{
		LearningRate:        0.01,
		Optimizer:           "sgd",
		GradientsAccumCount: 2,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID())

	batch := oneBatch(t, m)
	var commits []bool
	for i := 0; i < 4; i++ {
		loss, committed, err := session.TrainStep(batch, nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, float64(loss), 0.0)
		commits = append(commits, committed)
	}

	assert.Equal(t, []bool{false, true, false, true}, commits)
	assert.Equal(t, int64(2), session.Step())
	assert.Equal(t, int64(2), session.Optimizer().Iterations())
}

func TestSession_TrainingReducesLoss(t *testing.T) {
	m := newLinModel(t, [][]float32{{1, 2}, {2, 1}, {1, 1}}, nil, false)

	session, err := train.NewSession[Backend](m, config.Optimization{
		LearningRate: 0.05,
		Optimizer:    "sgd",
	})
	require.NoError(t, err)

	batch := oneBatch(t, m)
	first, _, err := session.TrainStep(batch, nil)
	require.NoError(t, err)

	var last float32
	for i := 0; i < 50; i++ {
		last, _, err = session.TrainStep(batch, nil)
		require.NoError(t, err)
	}
	assert.Less(t, float64(last), float64(first))
}

func TestSession_MissingLabels(t *testing.T) {
	// A supervised pipeline makes CheckLabels mandatory.
	m := newLinModel(t, [][]float32{{1, 2}}, []int64{0}, false)
	assert.False(t, m.Unsupervised())

	session, err := train.NewSession[Backend](m, config.Optimization{
		LearningRate: 0.01,
		Optimizer:    "sgd",
	})
	require.NoError(t, err)

	features, err := m.pipeline.MakeFeatures([][]float32{{1, 2}})
	require.NoError(t, err)

	_, _, err = session.TrainStep(features, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, train.ErrMissingLabels)
}

func TestSession_UnsupervisedEvaluate(t *testing.T) {
	m := newLinModel(t, [][]float32{{1, 2}}, nil, false)
	assert.True(t, m.Unsupervised())

	session, err := train.NewSession[Backend](m, config.Optimization{
		LearningRate: 0.01,
		Optimizer:    "sgd",
	})
	require.NoError(t, err)

	batch := oneBatch(t, m)
	loss, metrics, err := session.Evaluate(batch, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, float64(loss), 0.0)
	assert.Nil(t, metrics)
}

func TestSession_PredictWritesPrediction(t *testing.T) {
	m := newLinModel(t, [][]float32{{1, 2}}, nil, false)

	session, err := train.NewSession[Backend](m, config.Optimization{
		LearningRate: 0.01,
		Optimizer:    "sgd",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	batch := oneBatch(t, m)
	out, err := session.Predict(batch, &buf)
	require.NoError(t, err)
	require.NotNil(t, out["predictions"])
	assert.NotEmpty(t, buf.String())
}

func TestSession_ClippedTraining(t *testing.T) {
	m := newLinModel(t, [][]float32{{100, 200}}, nil, false)

	clip := 0.5
	session, err := train.NewSession[Backend](m, config.Optimization{
		LearningRate:  0.1,
		Optimizer:     "sgd",
		ClipGradients: &clip,
	})
	require.NoError(t, err)

	// Huge inputs would explode without clipping; with it the weight is
	// moved by at most lr * threshold per step.
	before := append([]float32(nil), m.layer.Weight().Tensor().Data()...)
	batch := oneBatch(t, m)
	_, _, err = session.TrainStep(batch, nil)
	require.NoError(t, err)

	var moved float64
	for i, v := range m.layer.Weight().Tensor().Data() {
		d := float64(v - before[i])
		moved += d * d
	}
	assert.LessOrEqual(t, moved, 0.1*0.1*clip*clip+1e-9)
}
