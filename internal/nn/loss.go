package nn

import (
	"fmt"

	"github.com/born-ml/neuralode/internal/tensor"
)

// CrossEntropyLoss computes the mean cross-entropy of logits against
// integer class labels.
//
// Loss = mean(-log_softmax(logits)[i, labels[i]])
//
// The log-sum-exp is shifted by the row maximum for numerical stability.
// On an autodiff backend the operation is recorded as a single node whose
// gradient is (softmax - one_hot) / batch.
//
// Example:
//
//	logits := model.Forward(images) // [batch, classes]
//	loss := nn.CrossEntropyLoss(logits, labels)
//	grads := autodiff.Backward(loss, backend)
func CrossEntropyLoss[B tensor.Backend](logits *tensor.Tensor[float32, B], labels *tensor.Tensor[int32, B]) *tensor.Tensor[float32, B] {
	ls, ys := logits.Shape(), labels.Shape()
	if len(ls) != 2 {
		panic(fmt.Sprintf("CrossEntropyLoss: expected 2D logits [batch, classes], got shape %v", ls))
	}
	if len(ys) != 1 || ys[0] != ls[0] {
		panic(fmt.Sprintf("CrossEntropyLoss: labels shape %v does not match batch %d", ys, ls[0]))
	}

	backend := logits.Backend()
	return tensor.New[float32](backend.CrossEntropy(logits.Raw(), labels.Raw()), backend)
}

// Accuracy returns the fraction of rows whose argmax equals the label.
func Accuracy[B tensor.Backend](logits *tensor.Tensor[float32, B], labels *tensor.Tensor[int32, B]) float64 {
	ls := logits.Shape()
	if len(ls) != 2 || labels.NumElements() != ls[0] {
		panic(fmt.Sprintf("Accuracy: logits %v and labels %v disagree on batch", ls, labels.Shape()))
	}

	pred := logits.Argmax(1).Data()
	want := labels.Data()
	correct := 0
	for i := range pred {
		if pred[i] == want[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(pred))
}
