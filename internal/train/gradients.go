package train

import (
	"fmt"
	"math"

	"github.com/kiln-ml/kiln/internal/autodiff"
	"github.com/kiln-ml/kiln/internal/config"
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// ComputeGradients differentiates the loss with respect to the model's
// parameters and returns one gradient per parameter, in parameter order.
//
// When the configuration carries a regularization penalty it is added to the
// optimization loss, once, before differentiation. Parameters the loss does
// not depend on get zero gradients of matching shape. When clip_gradients is
// set the returned gradients are rescaled so their global norm does not
// exceed the threshold.
//
// The gradient tape is consumed: it is cleared before returning, whether or
// not an error occurred.
func ComputeGradients[B autodiff.BackwardCapable](m Model[B], loss *Loss[B], cfg config.Optimization) ([]*tensor.RawTensor, error) {
	backend := m.Backend()
	defer backend.GetTape().Clear()

	params := m.Params().Slice()
	if len(params) == 0 {
		return nil, fmt.Errorf("compute gradients: %w", ErrUninitializedModel)
	}

	target := loss.Optimization
	if cfg.Regularization != nil && cfg.Regularization.Scale != 0 {
		penalty, err := RegularizationPenalty(cfg.Regularization, params)
		if err != nil {
			return nil, err
		}
		target = target.Add(penalty)
	}

	gradMap := autodiff.Backward(target, backend)

	grads := make([]*tensor.RawTensor, len(params))
	for i, p := range params {
		raw := p.Tensor().Raw()
		if g, ok := gradMap[raw]; ok {
			grads[i] = g
		} else {
			grads[i] = tensor.MustRaw(raw.Shape(), raw.DType(), raw.Device())
		}
	}

	if cfg.ClipGradients != nil {
		ClipByGlobalNorm(grads, *cfg.ClipGradients)
	}
	return grads, nil
}

// RegularizationPenalty builds the differentiable weight penalty
// scale * sum over parameters of |p| (l1) or p^2 (l2).
func RegularizationPenalty[B tensor.Backend](reg *config.Regularization, params []*nn.Parameter[B]) (*tensor.Tensor[float32, B], error) {
	var total *tensor.Tensor[float32, B]
	for _, p := range params {
		t := p.Tensor()

		var term *tensor.Tensor[float32, B]
		switch reg.Type {
		case "l1":
			term = t.Abs().Sum()
		case "l2":
			term = t.Mul(t).Sum()
		default:
			return nil, fmt.Errorf("%w: unknown regularization type %q", config.ErrInvalidConfig, reg.Type)
		}

		if total == nil {
			total = term
		} else {
			total = total.Add(term)
		}
	}
	return total.MulScalar(reg.Scale), nil
}

// ClipByGlobalNorm rescales grads in place so their combined L2 norm does
// not exceed threshold, and returns the pre-clip norm. Gradients already
// within the threshold are left untouched.
func ClipByGlobalNorm(grads []*tensor.RawTensor, threshold float64) float64 {
	var sumSquares float64
	for _, g := range grads {
		for _, v := range g.AsFloat32() {
			sumSquares += float64(v) * float64(v)
		}
	}
	norm := math.Sqrt(sumSquares)
	if norm <= threshold || norm == 0 {
		return norm
	}

	scale := float32(threshold / norm)
	for _, g := range grads {
		data := g.AsFloat32()
		for i := range data {
			data[i] *= scale
		}
	}
	return norm
}
