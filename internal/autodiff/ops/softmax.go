package ops

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// SoftmaxOp represents softmax along a dimension: s = softmax(x, dim).
//
// Backward pass (per row): grad_x = s * (grad - sum(grad * s, dim)).
type SoftmaxOp struct {
	base
	dim int
}

// NewSoftmaxOp creates a new SoftmaxOp.
func NewSoftmaxOp(x, output *tensor.RawTensor, dim int) *SoftmaxOp {
	return &SoftmaxOp{
		base: base{inputs: []*tensor.RawTensor{x}, output: output},
		dim:  dim,
	}
}

// Backward computes the softmax Jacobian-vector product.
func (op *SoftmaxOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	s := op.output

	weighted := backend.Mul(outputGrad, s)
	rowSums := backend.SumDim(weighted, op.dim, true)
	centered := backend.Sub(outputGrad, rowSums)

	return []*tensor.RawTensor{backend.Mul(s, centered)}
}

// CrossEntropyOp represents mean softmax cross-entropy over a batch:
//
//	loss = -1/batch * Σ log softmax(logits)[i, target_i]
//
// The softmax probabilities are captured at record time so the backward pass
// reduces to the well-known (probs - onehot) / batch form.
type CrossEntropyOp struct {
	base
	probs   *tensor.RawTensor
	targets *tensor.RawTensor
}

// NewCrossEntropyOp creates a new CrossEntropyOp.
// probs must hold softmax(logits) computed during the forward pass.
func NewCrossEntropyOp(logits, targets, probs, output *tensor.RawTensor) *CrossEntropyOp {
	return &CrossEntropyOp{
		base:    base{inputs: []*tensor.RawTensor{logits}, output: output},
		probs:   probs,
		targets: targets,
	}
}

// Backward computes grad_logits = g * (probs - onehot(targets)) / batch.
func (op *CrossEntropyOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	logits := op.inputs[0]
	shape := logits.Shape()
	batch, classes := shape[0], shape[1]

	grad, err := tensor.NewRaw(shape, tensor.Float32, logits.Device())
	if err != nil {
		panic(fmt.Sprintf("cross_entropy backward: %v", err))
	}

	g := float64(outputGrad.AsFloat32()[0])
	pv := op.probs.AsFloat32()
	tv := op.targets.AsInt64()
	gv := grad.AsFloat32()

	scale := float32(g / float64(batch))
	for r := 0; r < batch; r++ {
		cls := int(tv[r])
		for c := 0; c < classes; c++ {
			v := pv[r*classes+c]
			if c == cls {
				v -= 1
			}
			gv[r*classes+c] = v * scale
		}
	}

	return []*tensor.RawTensor{grad}
}
