// Package data provides example pipelines that turn raw inputs into the
// feature and label tensors a model consumes.
//
// A pipeline goes through a two-phase setup: Initialize binds it to a data
// configuration, then Build finalizes tensor shapes. Operations called out
// of order report ErrNotInitialized.
package data

import (
	"errors"

	"github.com/kiln-ml/kiln/internal/config"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// ErrNotInitialized reports a pipeline operation invoked before Initialize.
var ErrNotInitialized = errors.New("pipeline not initialized")

// TensorSpec describes the shape and element type of one pipeline output.
// A -1 dimension is unknown until runtime (typically the batch dimension).
type TensorSpec struct {
	Shape tensor.Shape
	DType tensor.DataType
}

// Signature maps output names to their tensor specs.
type Signature map[string]TensorSpec

// Batch is one materialized set of named tensors.
type Batch map[string]*tensor.RawTensor

// Features returns the batch's feature tensor, or nil if absent.
func (b Batch) Features() *tensor.RawTensor { return b["features"] }

// Labels returns the batch's label tensor, or nil for unsupervised data.
func (b Batch) Labels() *tensor.RawTensor { return b["labels"] }

// ExamplesPipeline converts raw examples to model inputs.
type ExamplesPipeline interface {
	// Initialize binds the pipeline to its data configuration. It must be
	// called before any other method.
	Initialize(cfg config.Data) error

	// Build finalizes the pipeline's tensor shapes. inputShape carries the
	// per-example feature shape, without the batch dimension.
	Build(inputShape tensor.Shape) error

	// Built reports whether Build has completed.
	Built() bool

	// InputSignature describes the feature tensors the pipeline produces,
	// with -1 for the batch dimension. It is sufficient to synthesize a
	// placeholder batch for a dry run.
	InputSignature() Signature

	// MakeFeatures converts one raw example or batch of examples into
	// named tensors.
	MakeFeatures(raw any) (Batch, error)

	// ExportAssets writes the pipeline's vocabulary or encoding artifacts
	// under dir and returns their named paths.
	ExportAssets(dir string) (map[string]string, error)

	// HasLabels reports whether the pipeline produces label tensors.
	HasLabels() bool
}

// SyntheticBatch builds a zero-filled batch matching sig, replacing unknown
// dimensions with 1. It exists so a model can run a shape-discovery forward
// pass before any real data is seen.
func SyntheticBatch(sig Signature, device tensor.Device) Batch {
	batch := make(Batch, len(sig))
	for name, spec := range sig {
		shape := spec.Shape.Clone()
		for i, d := range shape {
			if d < 0 {
				shape[i] = 1
			}
		}
		batch[name] = tensor.MustRaw(shape, spec.DType, device)
	}
	return batch
}
