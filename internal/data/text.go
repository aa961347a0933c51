package data

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kiln-ml/kiln/internal/config"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Encoder turns text into token ids.
type Encoder interface {
	Encode(text string) []int
	Name() string
}

// TiktokenEncoder wraps a tiktoken BPE encoding.
type TiktokenEncoder struct {
	name string
	enc  *tiktoken.Tiktoken
}

// NewTiktokenEncoder loads the named tiktoken encoding, e.g. "cl100k_base".
func NewTiktokenEncoder(name string) (*TiktokenEncoder, error) {
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", name, err)
	}
	return &TiktokenEncoder{name: name, enc: enc}, nil
}

// Encode implements Encoder.
func (e *TiktokenEncoder) Encode(text string) []int {
	return e.enc.Encode(text, nil, nil)
}

// Name implements Encoder.
func (e *TiktokenEncoder) Name() string { return e.name }

// TextPipeline tokenizes raw text into fixed-length id tensors. Examples
// longer than the configured maximum are truncated, shorter ones are padded
// with zeros.
type TextPipeline struct {
	encoder Encoder
	labels  []int64

	maxLength   int
	initialized bool
	built       bool
}

// NewTextPipeline creates a text pipeline over the given encoder. labels may
// be nil for unsupervised data. The encoder may also be nil, in which case
// Initialize loads the tiktoken encoding named in the data configuration.
func NewTextPipeline(encoder Encoder, labels []int64) *TextPipeline {
	return &TextPipeline{encoder: encoder, labels: labels}
}

// Initialize implements ExamplesPipeline.
func (p *TextPipeline) Initialize(cfg config.Data) error {
	if p.encoder == nil {
		if cfg.Encoding == "" {
			return fmt.Errorf("text pipeline: no encoder and no encoding configured")
		}
		enc, err := NewTiktokenEncoder(cfg.Encoding)
		if err != nil {
			return err
		}
		p.encoder = enc
	}
	p.maxLength = cfg.MaxLength
	if p.maxLength <= 0 {
		p.maxLength = 128
	}
	p.initialized = true
	return nil
}

// Build implements ExamplesPipeline. A one-dimensional inputShape overrides
// the configured maximum length.
func (p *TextPipeline) Build(inputShape tensor.Shape) error {
	if !p.initialized {
		return fmt.Errorf("text pipeline build: %w", ErrNotInitialized)
	}
	if len(inputShape) == 1 && inputShape[0] > 0 {
		p.maxLength = inputShape[0]
	}
	p.built = true
	return nil
}

// Built implements ExamplesPipeline.
func (p *TextPipeline) Built() bool { return p.built }

// InputSignature implements ExamplesPipeline.
func (p *TextPipeline) InputSignature() Signature {
	return Signature{
		"features": {Shape: tensor.Shape{-1, p.maxLength}, DType: tensor.Int64},
	}
}

// MakeFeatures implements ExamplesPipeline. It accepts a single string or a
// []string batch.
func (p *TextPipeline) MakeFeatures(raw any) (Batch, error) {
	if !p.built {
		return nil, fmt.Errorf("text pipeline features: %w", ErrNotInitialized)
	}
	var texts []string
	switch v := raw.(type) {
	case string:
		texts = []string{v}
	case []string:
		texts = v
	default:
		return nil, fmt.Errorf("text pipeline features: unsupported input type %T", raw)
	}

	if len(texts) == 0 {
		return nil, fmt.Errorf("text pipeline features: empty batch")
	}
	feats, err := tensor.NewRaw(tensor.Shape{len(texts), p.maxLength}, tensor.Int64, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("text pipeline features: %w", err)
	}
	dst := feats.AsInt64()
	for i, text := range texts {
		ids := p.encoder.Encode(text)
		if len(ids) > p.maxLength {
			ids = ids[:p.maxLength]
		}
		row := dst[i*p.maxLength : (i+1)*p.maxLength]
		for j, id := range ids {
			row[j] = int64(id)
		}
	}

	batch := Batch{"features": feats}
	if p.labels != nil {
		if len(p.labels) != len(texts) {
			return nil, fmt.Errorf("text pipeline features: %d labels for %d texts", len(p.labels), len(texts))
		}
		lab, err := tensor.NewRaw(tensor.Shape{len(texts)}, tensor.Int64, tensor.CPU)
		if err != nil {
			return nil, fmt.Errorf("text pipeline labels: %w", err)
		}
		copy(lab.AsInt64(), p.labels)
		batch["labels"] = lab
	}
	return batch, nil
}

// ExportAssets implements ExamplesPipeline. It records the encoding name so
// a deployment can reconstruct the tokenizer.
func (p *TextPipeline) ExportAssets(dir string) (map[string]string, error) {
	if !p.initialized {
		return nil, fmt.Errorf("text pipeline assets: %w", ErrNotInitialized)
	}
	path := filepath.Join(dir, "encoding.txt")
	if err := os.WriteFile(path, []byte(p.encoder.Name()+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("text pipeline assets: %w", err)
	}
	return map[string]string{"encoding": path}, nil
}

// HasLabels implements ExamplesPipeline.
func (p *TextPipeline) HasLabels() bool { return p.labels != nil }
