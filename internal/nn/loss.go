package nn

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// MSE computes mean squared error: mean((predictions - targets)²).
//
// Built entirely from backend operations, so it is recorded on the autodiff
// tape and gradients flow back to the predictions.
func MSE[B tensor.Backend](predictions, targets *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if !predictions.Shape().Equal(targets.Shape()) {
		panic(fmt.Sprintf("mse: predictions shape %v does not match targets shape %v",
			predictions.Shape(), targets.Shape()))
	}

	diff := predictions.Sub(targets)
	squared := diff.Mul(diff)
	return squared.Sum().DivScalar(float64(predictions.NumElements()))
}

// CrossEntropy computes mean softmax cross-entropy for a batch of logits
// [batch, classes] against int64 class indices [batch].
func CrossEntropy[B tensor.Backend](logits *tensor.Tensor[float32, B], targets *tensor.Tensor[int64, B]) *tensor.Tensor[float32, B] {
	backend := logits.Backend()
	return tensor.New[float32, B](backend.CrossEntropy(logits.Raw(), targets.Raw()), backend)
}
