// Copyright 2025 Kiln ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package config provides the typed training configuration.
package config

import (
	"github.com/kiln-ml/kiln/internal/config"
)

// Sentinel errors for configuration failures.
var (
	ErrConfiguration = config.ErrConfiguration
	ErrInvalidConfig = config.ErrInvalidConfig
)

// Optimization is the immutable snapshot of training hyperparameters.
type Optimization = config.Optimization

// OptimizerParams holds update-rule hyperparameters.
type OptimizerParams = config.OptimizerParams

// Regularization selects a weight penalty added to the training loss.
type Regularization = config.Regularization

// Data describes where a pipeline finds its inputs.
type Data = config.Data

// Training bundles the data and optimization sections of a config file.
type Training = config.Training

// Load reads a YAML training configuration from path and resolves it.
func Load(path string) (*Training, error) {
	return config.Load(path)
}
