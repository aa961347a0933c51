package data

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/config"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// TensorPipeline serves in-memory numeric examples. Labels are optional;
// without them the pipeline is unsupervised.
type TensorPipeline struct {
	features [][]float32
	labels   []int64

	featureDim  int
	numClasses  int
	initialized bool
	built       bool
}

// NewTensorPipeline creates a pipeline over in-memory examples. labels may
// be nil for unsupervised data; when present it must pair one label per
// feature row.
func NewTensorPipeline(features [][]float32, labels []int64, numClasses int) *TensorPipeline {
	return &TensorPipeline{
		features:   features,
		labels:     labels,
		numClasses: numClasses,
	}
}

// Initialize implements ExamplesPipeline.
func (p *TensorPipeline) Initialize(cfg config.Data) error {
	if p.labels != nil && len(p.labels) != len(p.features) {
		return fmt.Errorf("tensor pipeline: %d labels for %d examples", len(p.labels), len(p.features))
	}
	p.initialized = true
	return nil
}

// Build implements ExamplesPipeline. inputShape is the per-example feature
// shape; an empty shape infers the dimension from the data.
func (p *TensorPipeline) Build(inputShape tensor.Shape) error {
	if !p.initialized {
		return fmt.Errorf("tensor pipeline build: %w", ErrNotInitialized)
	}
	switch {
	case len(inputShape) == 1:
		p.featureDim = inputShape[0]
	case len(p.features) > 0:
		p.featureDim = len(p.features[0])
	default:
		return fmt.Errorf("tensor pipeline build: cannot infer feature dimension from empty data")
	}
	p.built = true
	return nil
}

// Built implements ExamplesPipeline.
func (p *TensorPipeline) Built() bool { return p.built }

// InputSignature implements ExamplesPipeline.
func (p *TensorPipeline) InputSignature() Signature {
	return Signature{
		"features": {Shape: tensor.Shape{-1, p.featureDim}, DType: tensor.Float32},
	}
}

// MakeFeatures implements ExamplesPipeline. It accepts a single example
// ([]float32), a batch of examples ([][]float32), or a batch index range
// ([2]int) into the pipeline's own data.
func (p *TensorPipeline) MakeFeatures(raw any) (Batch, error) {
	if !p.built {
		return nil, fmt.Errorf("tensor pipeline features: %w", ErrNotInitialized)
	}
	switch v := raw.(type) {
	case []float32:
		return p.batchFrom([][]float32{v}, nil)
	case [][]float32:
		return p.batchFrom(v, nil)
	case [2]int:
		lo, hi := v[0], v[1]
		if lo < 0 || hi > len(p.features) || lo >= hi {
			return nil, fmt.Errorf("tensor pipeline features: range [%d, %d) out of bounds", lo, hi)
		}
		var labels []int64
		if p.labels != nil {
			labels = p.labels[lo:hi]
		}
		return p.batchFrom(p.features[lo:hi], labels)
	default:
		return nil, fmt.Errorf("tensor pipeline features: unsupported input type %T", raw)
	}
}

func (p *TensorPipeline) batchFrom(rows [][]float32, labels []int64) (Batch, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("tensor pipeline features: empty batch")
	}
	feats, err := tensor.NewRaw(tensor.Shape{len(rows), p.featureDim}, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("tensor pipeline features: %w", err)
	}
	dst := feats.AsFloat32()
	for i, row := range rows {
		if len(row) != p.featureDim {
			return nil, fmt.Errorf("tensor pipeline features: example %d has %d values, want %d", i, len(row), p.featureDim)
		}
		copy(dst[i*p.featureDim:], row)
	}

	batch := Batch{"features": feats}
	if labels != nil {
		lab, err := tensor.NewRaw(tensor.Shape{len(labels)}, tensor.Int64, tensor.CPU)
		if err != nil {
			return nil, fmt.Errorf("tensor pipeline labels: %w", err)
		}
		copy(lab.AsInt64(), labels)
		batch["labels"] = lab
	}
	return batch, nil
}

// ExportAssets implements ExamplesPipeline. Numeric pipelines carry no
// vocabulary artifacts.
func (p *TensorPipeline) ExportAssets(dir string) (map[string]string, error) {
	return map[string]string{}, nil
}

// HasLabels implements ExamplesPipeline.
func (p *TensorPipeline) HasLabels() bool { return p.labels != nil }

// NumExamples returns the number of examples held by the pipeline.
func (p *TensorPipeline) NumExamples() int { return len(p.features) }

// NumClasses returns the label cardinality, or 0 for unsupervised data.
func (p *TensorPipeline) NumClasses() int { return p.numClasses }
