package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_Defaults(t *testing.T) {
	cfg, err := Optimization{LearningRate: 0.1, Optimizer: "sgd"}.Resolve()
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.GradientsAccumCount)
	assert.Equal(t, int64(1), cfg.DecayStepDuration)
}

func TestResolve_KeepsExplicitValues(t *testing.T) {
	cfg, err := Optimization{
		LearningRate:        0.1,
		Optimizer:           "adam",
		GradientsAccumCount: 4,
		DecayStepDuration:   8,
	}.Resolve()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.GradientsAccumCount)
	assert.Equal(t, int64(8), cfg.DecayStepDuration)
}

func TestResolve_Invalid(t *testing.T) {
	clipZero := 0.0
	clipNeg := -1.0

	tests := []struct {
		name string
		cfg  Optimization
	}{
		{"negative learning rate", Optimization{LearningRate: -0.1}},
		{"accum below one", Optimization{LearningRate: 0.1, GradientsAccumCount: -2}},
		{"negative start decay", Optimization{LearningRate: 0.1, StartDecaySteps: -5}},
		{"negative minimum", Optimization{LearningRate: 0.1, MinimumLearningRate: -1}},
		{"negative regularization scale", Optimization{
			LearningRate:   0.1,
			Regularization: &Regularization{Type: "l2", Scale: -0.5},
		}},
		{"unknown regularization type", Optimization{
			LearningRate:   0.1,
			Regularization: &Regularization{Type: "l3", Scale: 0.5},
		}},
		{"zero clip threshold", Optimization{LearningRate: 0.1, ClipGradients: &clipZero}},
		{"negative clip threshold", Optimization{LearningRate: 0.1, ClipGradients: &clipNeg}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.Resolve()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.yaml")
	content := `
data:
  source: train.txt
  encoding: cl100k_base
  max_length: 64
params:
  learning_rate: 0.002
  optimizer: adam
  optimizer_params:
    beta_1: 0.9
    beta_2: 0.998
  decay_type: noam
  decay_params:
    model_dim: 512
    warmup_steps: 4000
  gradients_accum: 8
  clip_gradients: 5
  regularization:
    type: l2
    scale: 0.0001
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "train.txt", cfg.Data.Source)
	assert.Equal(t, 64, cfg.Data.MaxLength)
	assert.Equal(t, 0.002, cfg.Params.LearningRate)
	assert.Equal(t, "adam", cfg.Params.Optimizer)
	assert.Equal(t, 0.998, cfg.Params.OptimizerParams.Beta2)
	assert.Equal(t, "noam", cfg.Params.DecayType)
	assert.Equal(t, float64(4000), cfg.Params.DecayParams["warmup_steps"])
	assert.Equal(t, 8, cfg.Params.GradientsAccumCount)
	require.NotNil(t, cfg.Params.ClipGradients)
	assert.Equal(t, 5.0, *cfg.Params.ClipGradients)
	require.NotNil(t, cfg.Params.Regularization)
	assert.Equal(t, "l2", cfg.Params.Regularization.Type)
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.yaml")
	content := `
params:
  learning_rate: 0.1
  optimizer: sgd
  gradients_accum: -1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
