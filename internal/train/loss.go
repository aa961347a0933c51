package train

import "github.com/kiln-ml/kiln/internal/tensor"

// Loss pairs the scalar actually differentiated with an optional variant for
// reporting. Models that normalize their training loss differently from the
// value they want logged (e.g. sum for optimization, per-token mean for
// display) set both; most models set only Optimization.
type Loss[B tensor.Backend] struct {
	// Optimization is the differentiable scalar gradients are taken from.
	Optimization *tensor.Tensor[float32, B]

	// Display, when non-nil, is the scalar reported to the user.
	Display *tensor.Tensor[float32, B]
}

// NewLoss creates a loss where the optimized and reported values coincide.
func NewLoss[B tensor.Backend](value *tensor.Tensor[float32, B]) *Loss[B] {
	return &Loss[B]{Optimization: value}
}

// Reported returns the display value, falling back to the optimization value.
func (l *Loss[B]) Reported() *tensor.Tensor[float32, B] {
	if l.Display != nil {
		return l.Display
	}
	return l.Optimization
}
