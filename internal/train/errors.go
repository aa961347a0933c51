package train

import "errors"

// Sentinel errors for lifecycle violations.
var (
	// ErrUninitializedModel reports a gradient or update request against a
	// model whose variables have not been created yet.
	ErrUninitializedModel = errors.New("model variables not created")

	// ErrMissingLabels reports a supervised operation invoked on a batch
	// without labels.
	ErrMissingLabels = errors.New("labels required but absent")
)
