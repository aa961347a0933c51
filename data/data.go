// Copyright 2025 Kiln ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package data provides example pipelines turning raw inputs into model
// tensors.
package data

import (
	"github.com/kiln-ml/kiln/internal/data"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// ErrNotInitialized reports a pipeline operation invoked before Initialize.
var ErrNotInitialized = data.ErrNotInitialized

// TensorSpec describes the shape and element type of one pipeline output.
type TensorSpec = data.TensorSpec

// Signature maps output names to their tensor specs.
type Signature = data.Signature

// Batch is one materialized set of named tensors.
type Batch = data.Batch

// ExamplesPipeline converts raw examples to model inputs.
type ExamplesPipeline = data.ExamplesPipeline

// SyntheticBatch builds a zero-filled batch matching sig.
func SyntheticBatch(sig Signature, device tensor.Device) Batch {
	return data.SyntheticBatch(sig, device)
}

// TensorPipeline serves in-memory numeric examples.
type TensorPipeline = data.TensorPipeline

// NewTensorPipeline creates a pipeline over in-memory examples. labels may
// be nil for unsupervised data.
func NewTensorPipeline(features [][]float32, labels []int64, numClasses int) *TensorPipeline {
	return data.NewTensorPipeline(features, labels, numClasses)
}

// TextPipeline tokenizes raw text into fixed-length id tensors.
type TextPipeline = data.TextPipeline

// NewTextPipeline creates a text pipeline over the given encoder.
func NewTextPipeline(encoder Encoder, labels []int64) *TextPipeline {
	return data.NewTextPipeline(encoder, labels)
}

// Encoder turns text into token ids.
type Encoder = data.Encoder

// TiktokenEncoder wraps a tiktoken BPE encoding.
type TiktokenEncoder = data.TiktokenEncoder

// NewTiktokenEncoder loads the named tiktoken encoding.
func NewTiktokenEncoder(name string) (*TiktokenEncoder, error) {
	return data.NewTiktokenEncoder(name)
}
