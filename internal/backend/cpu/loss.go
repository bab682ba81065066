package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/neuralode/internal/tensor"
)

// CrossEntropy computes mean(-log_softmax(logits)[targets]) as a scalar.
//
// Logits: [N, K] float32. Targets: [N] int32 class indices.
// Uses the log-sum-exp trick: log_softmax(z) = z - (max(z) + log Σ exp(z - max(z))).
func (cpu *CPUBackend) CrossEntropy(logits, targets *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("cross_entropy", logits)
	shape := logits.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("cross_entropy: logits must be 2D [N,K], got %v", shape))
	}
	if targets.DType() != tensor.Int32 || len(targets.Shape()) != 1 || targets.Shape()[0] != shape[0] {
		panic(fmt.Sprintf("cross_entropy: targets must be int32 [%d], got %s %v", shape[0], targets.DType(), targets.Shape()))
	}

	n, k := shape[0], shape[1]
	z, y := logits.AsFloat32(), targets.AsInt32()

	var total float64
	for i := 0; i < n; i++ {
		label := int(y[i])
		if label < 0 || label >= k {
			panic(fmt.Sprintf("cross_entropy: target %d out of range [0, %d)", label, k))
		}
		row := z[i*k : (i+1)*k]
		total += LogSumExp(row) - float64(row[label])
	}

	result := cpu.alloc("cross_entropy", tensor.Shape{}, tensor.Float32)
	result.AsFloat32()[0] = float32(total / float64(n))
	return result
}

// LogSumExp returns log Σ exp(row) computed stably in float64.
func LogSumExp(row []float32) float64 {
	maxVal := math.Inf(-1)
	for _, v := range row {
		maxVal = math.Max(maxVal, float64(v))
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v) - maxVal)
	}
	return maxVal + math.Log(sum)
}
