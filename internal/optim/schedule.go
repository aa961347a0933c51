package optim

import "math"

// Schedule maps a training step to a learning rate.
type Schedule interface {
	LearningRate(step int64) float32
}

// ScheduleFunc adapts a function to the Schedule interface.
type ScheduleFunc func(step int64) float32

func (f ScheduleFunc) LearningRate(step int64) float32 { return f(step) }

// ScheduleWrapper shapes an inner schedule with the common step transforms:
// the raw step is offset by StartStep so the rate stays flat at the step-0
// value until StartStep is reached, then scaled down by StepDuration, and
// the resulting rate is floored at Minimum.
type ScheduleWrapper struct {
	Inner        Schedule
	StepDuration int64 // steps per schedule unit, >= 1
	StartStep    int64 // raw steps before decay starts
	Minimum      float32
}

// LearningRate implements Schedule.
func (w *ScheduleWrapper) LearningRate(step int64) float32 {
	step -= w.StartStep
	if step < 0 {
		step = 0
	}
	if w.StepDuration > 1 {
		step /= w.StepDuration
	}
	lr := w.Inner.LearningRate(step)
	if lr < w.Minimum {
		lr = w.Minimum
	}
	return lr
}

// ExponentialDecay multiplies the initial rate by DecayRate every DecaySteps
// schedule units. With Staircase the exponent is truncated to an integer so
// the rate decays in discrete jumps.
type ExponentialDecay struct {
	Initial    float32
	DecayRate  float64
	DecaySteps int64
	Staircase  bool
}

// LearningRate implements Schedule.
func (d *ExponentialDecay) LearningRate(step int64) float32 {
	exponent := float64(step) / float64(d.DecaySteps)
	if d.Staircase {
		exponent = math.Floor(exponent)
	}
	return d.Initial * float32(math.Pow(d.DecayRate, exponent))
}

// RsqrtDecay scales the initial rate by 1/sqrt(max(step, warmupSteps)).
type RsqrtDecay struct {
	Initial     float32
	WarmupSteps int64
}

// LearningRate implements Schedule.
func (d *RsqrtDecay) LearningRate(step int64) float32 {
	s := step
	if s < d.WarmupSteps {
		s = d.WarmupSteps
	}
	return d.Initial / float32(math.Sqrt(float64(s)))
}

// NoamDecay implements the schedule from "Attention is All You Need":
// a linear warmup followed by rsqrt decay, scaled by the model dimension.
type NoamDecay struct {
	Scale       float32
	ModelDim    int64
	WarmupSteps int64
}

// LearningRate implements Schedule.
func (d *NoamDecay) LearningRate(step int64) float32 {
	// The schedule is defined for 1-based steps.
	s := float64(step + 1)
	warmup := float64(d.WarmupSteps)
	factor := math.Min(math.Pow(s, -0.5), s*math.Pow(warmup, -1.5))
	return d.Scale * float32(math.Pow(float64(d.ModelDim), -0.5)*factor)
}

// CosineAnnealing decays the initial rate to MinRate along a half cosine over
// MaxStep schedule units, then holds MinRate.
type CosineAnnealing struct {
	Initial float32
	MaxStep int64
	MinRate float32
}

// LearningRate implements Schedule.
func (d *CosineAnnealing) LearningRate(step int64) float32 {
	if step >= d.MaxStep {
		return d.MinRate
	}
	progress := float64(step) / float64(d.MaxStep)
	scale := 0.5 * (1 + math.Cos(math.Pi*progress))
	return d.MinRate + (d.Initial-d.MinRate)*float32(scale)
}
