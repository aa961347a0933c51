// Package config defines the typed configuration for a training session.
//
// All options are resolved and validated once, before training starts;
// invalid combinations fail at resolution time, never mid-training.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Sentinel errors for configuration failures.
var (
	// ErrConfiguration reports a missing required option
	// (e.g. learning_rate or optimizer at optimizer-construction time).
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidConfig reports a malformed option value
	// (e.g. negative regularization scale, non-positive clip threshold).
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Regularization selects a weight penalty added to the training loss.
type Regularization struct {
	Type  string  `yaml:"type"`  // "l1" or "l2"
	Scale float64 `yaml:"scale"` // penalty multiplier, >= 0
}

// OptimizerParams holds update-rule hyperparameters. Zero values select the
// optimizer's defaults.
type OptimizerParams struct {
	Momentum    float64 `yaml:"momentum"`     // SGD momentum factor
	Beta1       float64 `yaml:"beta_1"`       // Adam first-moment decay
	Beta2       float64 `yaml:"beta_2"`       // Adam second-moment decay
	Epsilon     float64 `yaml:"epsilon"`      // Adam numerical stability term
	WeightDecay float64 `yaml:"weight_decay"` // decoupled weight decay
}

// Optimization is the immutable snapshot of training hyperparameters.
//
// Required: LearningRate, Optimizer. Everything else is optional with the
// defaults applied by Resolve.
type Optimization struct {
	LearningRate float64 `yaml:"learning_rate"`
	Optimizer    string  `yaml:"optimizer"` // "sgd" or "adam"

	OptimizerParams OptimizerParams `yaml:"optimizer_params"`

	// Learning-rate schedule shaping, all optional.
	DecayType           string             `yaml:"decay_type"`
	DecayParams         map[string]float64 `yaml:"decay_params"`
	DecayStepDuration   int64              `yaml:"decay_step_duration"`   // steps per schedule unit, default 1
	StartDecaySteps     int64              `yaml:"start_decay_steps"`     // schedule is flat before this step
	MinimumLearningRate float64            `yaml:"minimum_learning_rate"` // schedule output floor

	Regularization *Regularization `yaml:"regularization"`
	ClipGradients  *float64        `yaml:"clip_gradients"` // global-norm threshold, > 0

	// GradientsAccumCount is the number of gradient accumulation steps per
	// committed update. Default 1 (no accumulation).
	GradientsAccumCount int `yaml:"gradients_accum"`
}

// Resolve applies defaults and validates the configuration, returning the
// resolved copy. It is the single place malformed values are rejected.
func (c Optimization) Resolve() (Optimization, error) {
	if c.GradientsAccumCount == 0 {
		c.GradientsAccumCount = 1
	}
	if c.DecayStepDuration == 0 {
		c.DecayStepDuration = 1
	}

	if c.LearningRate < 0 {
		return c, fmt.Errorf("%w: learning_rate must be positive, got %g", ErrInvalidConfig, c.LearningRate)
	}
	if c.GradientsAccumCount < 1 {
		return c, fmt.Errorf("%w: gradients_accum must be >= 1, got %d", ErrInvalidConfig, c.GradientsAccumCount)
	}
	if c.DecayStepDuration < 1 {
		return c, fmt.Errorf("%w: decay_step_duration must be >= 1, got %d", ErrInvalidConfig, c.DecayStepDuration)
	}
	if c.StartDecaySteps < 0 {
		return c, fmt.Errorf("%w: start_decay_steps must be >= 0, got %d", ErrInvalidConfig, c.StartDecaySteps)
	}
	if c.MinimumLearningRate < 0 {
		return c, fmt.Errorf("%w: minimum_learning_rate must be >= 0, got %g", ErrInvalidConfig, c.MinimumLearningRate)
	}
	if c.Regularization != nil {
		if c.Regularization.Scale < 0 {
			return c, fmt.Errorf("%w: regularization scale must be >= 0, got %g", ErrInvalidConfig, c.Regularization.Scale)
		}
		switch c.Regularization.Type {
		case "l1", "l2":
		default:
			return c, fmt.Errorf("%w: unknown regularization type %q", ErrInvalidConfig, c.Regularization.Type)
		}
	}
	if c.ClipGradients != nil && *c.ClipGradients <= 0 {
		return c, fmt.Errorf("%w: clip_gradients must be > 0, got %g", ErrInvalidConfig, *c.ClipGradients)
	}

	return c, nil
}

// Data describes where a pipeline finds its inputs.
type Data struct {
	Source    string `yaml:"source"`     // features source (file path or inline spec)
	Labels    string `yaml:"labels"`     // labels source; empty means unsupervised
	Encoding  string `yaml:"encoding"`   // tokenizer encoding name for text pipelines
	MaxLength int    `yaml:"max_length"` // maximum feature length for text pipelines
}

// Training bundles the data and optimization sections of a config file.
type Training struct {
	Data   Data         `yaml:"data"`
	Params Optimization `yaml:"params"`
}

// Load reads a YAML training configuration from path and resolves it.
func Load(path string) (*Training, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Training
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.Params, err = cfg.Params.Resolve()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
