package main

import (
	"github.com/kiln-ml/kiln/internal/autodiff"
	"github.com/kiln-ml/kiln/internal/data"
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/tensor"
	"github.com/kiln-ml/kiln/internal/train"
)

// mlp is the built-in classifier the train subcommand runs: one lazily
// allocated hidden layer with ReLU feeding a logits layer sized to the
// pipeline's class count.
type mlp[B autodiff.BackwardCapable] struct {
	train.BaseModel[B]

	pipeline   *data.TensorPipeline
	hiddenSize int

	hidden *nn.Linear[B]
	output *nn.Linear[B]
}

func newMLP[B autodiff.BackwardCapable](pipeline *data.TensorPipeline, hiddenSize int, backend B) *mlp[B] {
	return &mlp[B]{
		BaseModel:  train.NewBaseModel[B]("mlp", pipeline, backend),
		pipeline:   pipeline,
		hiddenSize: hiddenSize,
	}
}

func (m *mlp[B]) Build() error {
	if err := m.RequireInitialized(); err != nil {
		return err
	}
	if err := m.pipeline.Build(nil); err != nil {
		return err
	}
	m.hidden = nn.NewLazyLinear("hidden", m.hiddenSize, m.Backend())
	m.output = nn.NewLazyLinear("output", m.pipeline.NumClasses(), m.Backend())
	m.AddModule(m.hidden)
	m.AddModule(m.output)
	m.MarkBuilt()
	return nil
}

func (m *mlp[B]) Forward(features, labels data.Batch, mode train.Mode) (*tensor.Tensor[float32, B], *tensor.RawTensor, error) {
	x := tensor.New[float32, B](features.Features(), m.Backend())
	logits := m.output.Forward(m.hidden.Forward(x).ReLU())

	var predictions *tensor.RawTensor
	if mode != train.ModeTrain {
		predictions = m.Backend().Argmax(logits.Raw(), -1)
	}
	return logits, predictions, nil
}

func (m *mlp[B]) ComputeLoss(outputs *tensor.Tensor[float32, B], labels data.Batch, mode train.Mode) (*train.Loss[B], error) {
	if err := m.CheckLabels(labels); err != nil {
		return nil, err
	}
	targets := tensor.New[int64, B](labels.Labels(), m.Backend())
	return train.NewLoss(nn.CrossEntropy(outputs, targets)), nil
}

func (m *mlp[B]) ComputeMetrics(predictions *tensor.RawTensor, labels data.Batch) (map[string]float64, error) {
	if labels == nil || labels.Labels() == nil || predictions == nil {
		return nil, nil
	}
	pred := predictions.AsInt64()
	want := labels.Labels().AsInt64()

	correct := 0
	for i := range pred {
		if pred[i] == want[i] {
			correct++
		}
	}
	return map[string]float64{
		"accuracy": float64(correct) / float64(len(pred)),
	}, nil
}
