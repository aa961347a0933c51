// Package train implements the model lifecycle and optimization loop: lazy
// variable creation, loss and gradient computation, delayed gradient
// application and step accounting.
package train

import (
	"fmt"
	"io"

	"github.com/kiln-ml/kiln/internal/autodiff"
	"github.com/kiln-ml/kiln/internal/config"
	"github.com/kiln-ml/kiln/internal/data"
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/optim"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Model is a trainable model over a backward-capable backend.
//
// Lifecycle: Initialize binds the data pipeline, Build constructs the layer
// graph, and CreateVariables materializes parameters (running a dry forward
// pass when layers allocate lazily). Forward and ComputeLoss are only valid
// after Build; gradient computation is only valid after variables exist.
type Model[B autodiff.BackwardCapable] interface {
	Name() string
	Pipeline() data.ExamplesPipeline
	Backend() B

	// Initialize binds the model and its pipeline to the data configuration.
	Initialize(cfg config.Data) error

	// Build constructs the model's layers. Parameters with lazily resolved
	// shapes may remain unallocated until the first forward pass.
	Build() error

	// Built reports whether Build has completed.
	Built() bool

	// Params returns the model's parameters in stable registration order.
	// Empty until variables are created.
	Params() *nn.ParameterSet[B]

	// Unsupervised reports whether the model trains without labels.
	Unsupervised() bool

	// Forward runs the model on a feature batch, returning the raw outputs
	// used for the loss and, in ModePredict, decoded predictions. labels may
	// be nil for unsupervised models or in ModePredict.
	Forward(features, labels data.Batch, mode Mode) (*tensor.Tensor[float32, B], *tensor.RawTensor, error)

	// ComputeLoss turns forward outputs and labels into a loss pair.
	ComputeLoss(outputs *tensor.Tensor[float32, B], labels data.Batch, mode Mode) (*Loss[B], error)

	// ComputeMetrics computes named evaluation metrics from decoded
	// predictions. Returns no metrics when labels is nil.
	ComputeMetrics(predictions *tensor.RawTensor, labels data.Batch) (map[string]float64, error)

	// PrintPrediction formats one decoded prediction to w.
	PrintPrediction(prediction *tensor.RawTensor, w io.Writer) error
}

// BaseModel carries the state and default behavior shared by models. Concrete
// models embed it and implement Build, Forward and ComputeLoss.
type BaseModel[B autodiff.BackwardCapable] struct {
	name     string
	pipeline data.ExamplesPipeline
	backend  B

	modules     []nn.Module[B]
	params      *nn.ParameterSet[B]
	initialized bool
	built       bool
}

// NewBaseModel creates the shared model state.
func NewBaseModel[B autodiff.BackwardCapable](name string, pipeline data.ExamplesPipeline, backend B) BaseModel[B] {
	return BaseModel[B]{
		name:     name,
		pipeline: pipeline,
		backend:  backend,
		params:   nn.NewParameterSet[B](),
	}
}

// Name returns the model name.
func (m *BaseModel[B]) Name() string { return m.name }

// Pipeline returns the model's examples pipeline.
func (m *BaseModel[B]) Pipeline() data.ExamplesPipeline { return m.pipeline }

// Backend returns the model's compute backend.
func (m *BaseModel[B]) Backend() B { return m.backend }

// Initialize binds the pipeline to the data configuration.
func (m *BaseModel[B]) Initialize(cfg config.Data) error {
	if err := m.pipeline.Initialize(cfg); err != nil {
		return err
	}
	m.initialized = true
	return nil
}

// RequireInitialized reports an ordering error unless Initialize has run.
// Concrete Build implementations call it first.
func (m *BaseModel[B]) RequireInitialized() error {
	if !m.initialized {
		return fmt.Errorf("%w: model %q built before initialization", optim.ErrMisorderedInit, m.name)
	}
	return nil
}

// MarkBuilt records that Build has completed.
func (m *BaseModel[B]) MarkBuilt() { m.built = true }

// Built reports whether Build has completed.
func (m *BaseModel[B]) Built() bool { return m.built }

// AddModule registers a layer so its parameters are tracked. Typically
// called from Build.
func (m *BaseModel[B]) AddModule(mod nn.Module[B]) {
	m.modules = append(m.modules, mod)
}

// Params collects parameters from all registered modules, in registration
// order. Parameters that appear after lazy allocation are picked up on the
// next call; already-registered parameters keep their position and identity.
func (m *BaseModel[B]) Params() *nn.ParameterSet[B] {
	for _, mod := range m.modules {
		for _, p := range mod.Parameters() {
			if m.params.Get(p.Name()) == nil {
				// Add only fails on duplicate names, which Get excludes.
				_ = m.params.Add(p)
			}
		}
	}
	return m.params
}

// Unsupervised reports whether the pipeline provides labels.
func (m *BaseModel[B]) Unsupervised() bool { return !m.pipeline.HasLabels() }

// CheckLabels verifies a batch carries labels, for supervised operations.
func (m *BaseModel[B]) CheckLabels(labels data.Batch) error {
	if labels == nil || labels.Labels() == nil {
		return fmt.Errorf("model %q: %w", m.name, ErrMissingLabels)
	}
	return nil
}

// ComputeMetrics returns no metrics. Models with evaluation metrics
// override it.
func (m *BaseModel[B]) ComputeMetrics(predictions *tensor.RawTensor, labels data.Batch) (map[string]float64, error) {
	return nil, nil
}

// PrintPrediction writes a direct textual rendering of the prediction.
// Models with structured output override it.
func (m *BaseModel[B]) PrintPrediction(prediction *tensor.RawTensor, w io.Writer) error {
	var err error
	switch prediction.DType() {
	case tensor.Int64:
		_, err = fmt.Fprintln(w, prediction.AsInt64())
	case tensor.Int32:
		_, err = fmt.Fprintln(w, prediction.AsInt32())
	case tensor.Float64:
		_, err = fmt.Fprintln(w, prediction.AsFloat64())
	default:
		_, err = fmt.Fprintln(w, prediction.AsFloat32())
	}
	return err
}

// ExportAssets delegates to the pipeline.
func (m *BaseModel[B]) ExportAssets(dir string) (map[string]string, error) {
	return m.pipeline.ExportAssets(dir)
}

// CreateVariables materializes the model's parameters, building the model
// first if needed and running a single synthetic forward pass in ModePredict
// so lazily shaped layers allocate. When opt is non-nil its slot variables
// are created against the finalized parameter set.
//
// Calling it again is a no-op: parameter identity and shapes never change
// once created.
func CreateVariables[B autodiff.BackwardCapable](m Model[B], opt optim.Optimizer[B]) error {
	if !m.Built() {
		if err := m.Build(); err != nil {
			return err
		}
	}

	if m.Params().Len() == 0 {
		// The dry run must not leave operations on the tape.
		tape := m.Backend().GetTape()
		wasRecording := tape.IsRecording()
		tape.StopRecording()

		batch := data.SyntheticBatch(m.Pipeline().InputSignature(), m.Backend().Device())
		_, _, err := m.Forward(batch, nil, ModePredict)

		if wasRecording {
			tape.StartRecording()
		}
		if err != nil {
			return fmt.Errorf("create variables: dry run failed: %w", err)
		}
	}

	if m.Params().Len() == 0 {
		return fmt.Errorf("create variables: model %q produced no parameters", m.Name())
	}

	if opt != nil && !opt.SlotsCreated() {
		return opt.CreateSlots(m.Params().Slice())
	}
	return nil
}
