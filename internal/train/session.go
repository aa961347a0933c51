package train

import (
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/kiln-ml/kiln/internal/autodiff"
	"github.com/kiln-ml/kiln/internal/config"
	"github.com/kiln-ml/kiln/internal/data"
	"github.com/kiln-ml/kiln/internal/optim"
)

// Session drives one training run: it owns the optimizer, the delayed
// updater and the step counter, and sequences forward, loss, gradient and
// update for each batch.
type Session[B autodiff.BackwardCapable] struct {
	id      uuid.UUID
	model   Model[B]
	cfg     config.Optimization
	opt     optim.Optimizer[B]
	updater *DelayedUpdater[B]
	step    *StepCounter
}

// NewSession builds the optimizer from the resolved configuration, creates
// the model's variables and optimizer slots, and returns a session ready to
// train.
func NewSession[B autodiff.BackwardCapable](model Model[B], cfg config.Optimization) (*Session[B], error) {
	resolved, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	opt, err := optim.New[B](resolved)
	if err != nil {
		return nil, err
	}
	if err := CreateVariables(model, opt); err != nil {
		return nil, err
	}

	step := &StepCounter{}
	updater, err := NewDelayedUpdater(opt, resolved.GradientsAccumCount, step)
	if err != nil {
		return nil, err
	}

	return &Session[B]{
		id:      uuid.New(),
		model:   model,
		cfg:     resolved,
		opt:     opt,
		updater: updater,
		step:    step,
	}, nil
}

// ID returns the session's unique identifier.
func (s *Session[B]) ID() string { return s.id.String() }

// Step returns the number of committed updates so far.
func (s *Session[B]) Step() int64 { return s.step.Value() }

// Optimizer returns the session's optimizer.
func (s *Session[B]) Optimizer() optim.Optimizer[B] { return s.opt }

// TrainStep runs forward, loss, gradient and update for one batch. It
// returns the reported loss and whether this call committed a parameter
// update (false while gradients are still accumulating).
func (s *Session[B]) TrainStep(features, labels data.Batch) (float32, bool, error) {
	tape := s.model.Backend().GetTape()
	tape.StartRecording()
	defer tape.StopRecording()

	outputs, _, err := s.model.Forward(features, labels, ModeTrain)
	if err != nil {
		tape.Clear()
		return 0, false, fmt.Errorf("train step: %w", err)
	}
	loss, err := s.model.ComputeLoss(outputs, labels, ModeTrain)
	if err != nil {
		tape.Clear()
		return 0, false, fmt.Errorf("train step: %w", err)
	}

	grads, err := ComputeGradients(s.model, loss, s.cfg)
	if err != nil {
		return 0, false, fmt.Errorf("train step: %w", err)
	}

	committed, err := s.updater.Apply(grads)
	if err != nil {
		return 0, false, fmt.Errorf("train step: %w", err)
	}
	return loss.Reported().Item(), committed, nil
}

// Evaluate runs forward and loss without touching parameters, returning the
// reported loss and any model metrics.
func (s *Session[B]) Evaluate(features, labels data.Batch) (float32, map[string]float64, error) {
	outputs, predictions, err := s.model.Forward(features, labels, ModeEval)
	if err != nil {
		return 0, nil, fmt.Errorf("evaluate: %w", err)
	}
	loss, err := s.model.ComputeLoss(outputs, labels, ModeEval)
	if err != nil {
		return 0, nil, fmt.Errorf("evaluate: %w", err)
	}

	var metrics map[string]float64
	if labels != nil && labels.Labels() != nil {
		metrics, err = s.model.ComputeMetrics(predictions, labels)
		if err != nil {
			return 0, nil, fmt.Errorf("evaluate: %w", err)
		}
	}
	return loss.Reported().Item(), metrics, nil
}

// Predict runs the model in prediction mode and writes each decoded
// prediction to w when it is non-nil.
func (s *Session[B]) Predict(features data.Batch, w io.Writer) (data.Batch, error) {
	_, predictions, err := s.model.Forward(features, nil, ModePredict)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	if w != nil && predictions != nil {
		if err := s.model.PrintPrediction(predictions, w); err != nil {
			return nil, fmt.Errorf("predict: %w", err)
		}
	}
	return data.Batch{"predictions": predictions}, nil
}
