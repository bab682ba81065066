package ops

import (
	"math"

	"github.com/born-ml/neuralode/internal/tensor"
)

// CrossEntropyOp represents the cross-entropy loss operation.
//
// Forward:
//
//	Loss = mean(-log_softmax(logits)[targets])
//
// Backward:
//
//	∂L/∂logits = (softmax(logits) - y_one_hot) / batch_size
//
// Assumptions:
//   - Logits shape: [batch_size, num_classes] (2D)
//   - Targets shape: [batch_size] (1D, int32 class indices)
//   - Output: scalar loss (mean over batch)
//
// Targets are not differentiable and are not reported as inputs.
type CrossEntropyOp struct {
	logits  *tensor.RawTensor
	targets *tensor.RawTensor
	output  *tensor.RawTensor
}

// NewCrossEntropyOp creates a new cross-entropy operation.
func NewCrossEntropyOp(logits, targets, output *tensor.RawTensor) *CrossEntropyOp {
	return &CrossEntropyOp{logits: logits, targets: targets, output: output}
}

// Inputs returns [logits].
func (op *CrossEntropyOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.logits}
}

// Output returns the scalar loss.
func (op *CrossEntropyOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward computes the gradient with respect to logits.
func (op *CrossEntropyOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	shape := op.logits.Shape()
	batchSize, numClasses := shape[0], shape[1]

	grad := tensor.MustNewRaw(shape, op.logits.DType(), backend.Device())
	logits, targets, out := op.logits.AsFloat32(), op.targets.AsInt32(), grad.AsFloat32()
	scale := float64(outputGrad.AsFloat32()[0]) / float64(batchSize)

	for b := 0; b < batchSize; b++ {
		row := logits[b*numClasses : (b+1)*numClasses]
		maxVal := math.Inf(-1)
		for _, v := range row {
			maxVal = math.Max(maxVal, float64(v))
		}
		var sum float64
		for _, v := range row {
			sum += math.Exp(float64(v) - maxVal)
		}
		for i, v := range row {
			p := math.Exp(float64(v)-maxVal) / sum
			if i == int(targets[b]) {
				p--
			}
			out[b*numClasses+i] = float32(p * scale)
		}
	}
	return []*tensor.RawTensor{grad}
}
