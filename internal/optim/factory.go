package optim

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/config"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// New builds an optimizer from a resolved optimization configuration,
// including its learning-rate schedule when a decay type is set.
//
// The returned optimizer is unbound; call CreateSlots once the model's
// parameters exist.
func New[B tensor.Backend](cfg config.Optimization) (Optimizer[B], error) {
	if cfg.LearningRate == 0 {
		return nil, fmt.Errorf("%w: learning_rate is required", config.ErrConfiguration)
	}
	if cfg.Optimizer == "" {
		return nil, fmt.Errorf("%w: optimizer is required", config.ErrConfiguration)
	}

	sched, err := makeSchedule(cfg)
	if err != nil {
		return nil, err
	}

	lr := float32(cfg.LearningRate)
	p := cfg.OptimizerParams

	switch cfg.Optimizer {
	case "sgd":
		opt := NewSGD[B](lr, float32(p.Momentum))
		if sched != nil {
			opt.WithSchedule(sched)
		}
		return opt, nil
	case "adam":
		opt := NewAdam[B](lr, float32(p.Beta1), float32(p.Beta2), float32(p.Epsilon))
		if p.WeightDecay != 0 {
			opt.WithWeightDecay(float32(p.WeightDecay))
		}
		if sched != nil {
			opt.WithSchedule(sched)
		}
		return opt, nil
	default:
		return nil, fmt.Errorf("%w: unknown optimizer %q", config.ErrInvalidConfig, cfg.Optimizer)
	}
}

// makeSchedule builds the configured learning-rate schedule, or nil when no
// decay type is set.
func makeSchedule(cfg config.Optimization) (Schedule, error) {
	if cfg.DecayType == "" {
		return nil, nil
	}

	param := func(key string, def float64) float64 {
		if v, ok := cfg.DecayParams[key]; ok {
			return v
		}
		return def
	}

	lr := float32(cfg.LearningRate)

	var inner Schedule
	switch cfg.DecayType {
	case "exponential":
		steps := int64(param("decay_steps", 0))
		if steps <= 0 {
			return nil, fmt.Errorf("%w: exponential decay requires decay_steps > 0", config.ErrInvalidConfig)
		}
		inner = &ExponentialDecay{
			Initial:    lr,
			DecayRate:  param("decay_rate", 0.9),
			DecaySteps: steps,
			Staircase:  param("staircase", 0) != 0,
		}
	case "rsqrt":
		inner = &RsqrtDecay{
			Initial:     lr,
			WarmupSteps: int64(param("warmup_steps", 1)),
		}
	case "noam":
		dim := int64(param("model_dim", 0))
		warmup := int64(param("warmup_steps", 0))
		if dim <= 0 || warmup <= 0 {
			return nil, fmt.Errorf("%w: noam decay requires model_dim and warmup_steps", config.ErrInvalidConfig)
		}
		inner = &NoamDecay{Scale: lr, ModelDim: dim, WarmupSteps: warmup}
	case "cosine":
		maxStep := int64(param("max_step", 0))
		if maxStep <= 0 {
			return nil, fmt.Errorf("%w: cosine decay requires max_step > 0", config.ErrInvalidConfig)
		}
		inner = &CosineAnnealing{
			Initial: lr,
			MaxStep: maxStep,
			MinRate: float32(param("min_lr", 0)),
		}
	default:
		return nil, fmt.Errorf("%w: unknown decay type %q", config.ErrInvalidConfig, cfg.DecayType)
	}

	return &ScheduleWrapper{
		Inner:        inner,
		StepDuration: cfg.DecayStepDuration,
		StartStep:    cfg.StartDecaySteps,
		Minimum:      float32(cfg.MinimumLearningRate),
	}, nil
}
