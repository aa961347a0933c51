package tensor

// Backend defines the interface that all compute backends must implement.
// Backends handle the actual computation for tensor operations.
//
// Implementations:
//   - backend/cpu: pure Go reference implementation
//   - autodiff: decorator backend adding gradient recording on top of any other
//
// Backends must not alias input buffers in their results: every operation
// returns a freshly allocated RawTensor. The autodiff tape relies on input
// values staying intact until the backward pass runs.
type Backend interface {
	// Element-wise binary operations (with NumPy-style broadcasting).
	Add(a, b *RawTensor) *RawTensor // Element-wise addition.
	Sub(a, b *RawTensor) *RawTensor // Element-wise subtraction.
	Mul(a, b *RawTensor) *RawTensor // Element-wise multiplication.
	Div(a, b *RawTensor) *RawTensor // Element-wise division.

	// Matrix operations.
	MatMul(a, b *RawTensor) *RawTensor // 2D matrix multiplication.

	// Scalar operations (element-wise with a scalar).
	AddScalar(x *RawTensor, scalar float64) *RawTensor // Add scalar.
	SubScalar(x *RawTensor, scalar float64) *RawTensor // Subtract scalar.
	MulScalar(x *RawTensor, scalar float64) *RawTensor // Multiply by scalar.
	DivScalar(x *RawTensor, scalar float64) *RawTensor // Divide by scalar.

	// Math operations (element-wise).
	Exp(x *RawTensor) *RawTensor  // Exponential.
	Log(x *RawTensor) *RawTensor  // Natural logarithm.
	Sqrt(x *RawTensor) *RawTensor // Square root.
	Abs(x *RawTensor) *RawTensor  // Absolute value.

	// Activation functions.
	ReLU(x *RawTensor) *RawTensor             // Rectified linear unit.
	Softmax(x *RawTensor, dim int) *RawTensor // Softmax along dimension.

	// Losses.
	CrossEntropy(logits, targets *RawTensor) *RawTensor // Mean cross-entropy over a batch of logits.

	// Reduction operations.
	Sum(x *RawTensor) *RawTensor                            // Total sum (shape {1} result).
	SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor  // Sum along dimension.
	MeanDim(x *RawTensor, dim int, keepDim bool) *RawTensor // Mean along dimension.
	Argmax(x *RawTensor, dim int) *RawTensor                // Index of maximum value along dimension.

	// Shape operations.
	Reshape(t *RawTensor, newShape Shape) *RawTensor // Reshape tensor.
	Transpose(t *RawTensor, axes ...int) *RawTensor  // Transpose dimensions (2D when axes omitted).

	// Metadata.
	Name() string   // Backend name (e.g., "CPU").
	Device() Device // Device type.
}
