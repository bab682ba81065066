package cpu

import (
	"fmt"

	"github.com/born-ml/neuralode/internal/parallel"
	"github.com/born-ml/neuralode/internal/tensor"
)

// MatMul performs matrix multiplication.
// For 2D tensors: (M, K) @ (K, N) -> (M, N). Rows of the result are split across workers.
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("matmul", a, b)
	aShape := a.Shape()
	bShape := b.Shape()

	if len(aShape) != 2 || len(bShape) != 2 {
		panic(fmt.Sprintf("matmul: only 2D tensors supported, got %dD and %dD", len(aShape), len(bShape)))
	}

	m, k := aShape[0], aShape[1]
	kAlt, n := bShape[0], bShape[1]
	if k != kAlt {
		panic(fmt.Sprintf("matmul: shape mismatch [%d,%d] @ [%d,%d]", m, k, kAlt, n))
	}

	result := cpu.alloc("matmul", tensor.Shape{m, n}, tensor.Float32)
	c, aData, bData := result.AsFloat32(), a.AsFloat32(), b.AsFloat32()

	parallel.ForRange(m, func(start, end int) {
		gemm(c[start*n:end*n], aData[start*k:end*k], bData, end-start, k, n)
	}, cpu.par)

	return result
}

// gemm accumulates C[m,n] += A[m,k] @ B[k,n] (all row-major).
// The i-k-j loop order streams rows of B.
func gemm(c, a, b []float32, m, k, n int) {
	for i := 0; i < m; i++ {
		cRow := c[i*n : (i+1)*n]
		for p := 0; p < k; p++ {
			av := a[i*k+p]
			if av == 0 {
				continue
			}
			bRow := b[p*n : (p+1)*n]
			for j, bv := range bRow {
				cRow[j] += av * bv
			}
		}
	}
}

// gemmAT accumulates C[m,n] += Aᵀ @ B where A is stored as [k,m].
func gemmAT(c, a, b []float32, m, k, n int) {
	for p := 0; p < k; p++ {
		aRow := a[p*m : (p+1)*m]
		bRow := b[p*n : (p+1)*n]
		for i, av := range aRow {
			if av == 0 {
				continue
			}
			cRow := c[i*n : (i+1)*n]
			for j, bv := range bRow {
				cRow[j] += av * bv
			}
		}
	}
}

// gemmBT accumulates C[m,n] += A @ Bᵀ where B is stored as [n,k].
func gemmBT(c, a, b []float32, m, k, n int) {
	for i := 0; i < m; i++ {
		aRow := a[i*k : (i+1)*k]
		for j := 0; j < n; j++ {
			bRow := b[j*k : (j+1)*k]
			var sum float32
			for p, av := range aRow {
				sum += av * bRow[p]
			}
			c[i*n+j] += sum
		}
	}
}
