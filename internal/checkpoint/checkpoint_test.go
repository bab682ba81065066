package checkpoint_test

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/neuralode/internal/backend/cpu"
	"github.com/born-ml/neuralode/internal/checkpoint"
	"github.com/born-ml/neuralode/internal/model"
	"github.com/born-ml/neuralode/internal/nn"
	"github.com/born-ml/neuralode/internal/ode"
	"github.com/born-ml/neuralode/internal/tensor"
)

func smallModel(t *testing.T, kind string, seed uint64) *model.Classifier[*cpu.CPUBackend] {
	t.Helper()
	nn.Seed(seed)
	opts := model.DefaultOptions()
	opts.Kind = kind
	opts.ImageSize = 8
	opts.AugmentDims = 1
	opts.HiddenChannels = 3
	opts.Harmonics = 2
	opts.ODE = ode.Config{Solver: ode.Euler, Span: ode.Span{0, 1}}
	m, err := model.New(cpu.New(), opts)
	require.NoError(t, err)
	return m
}

func values(params []*nn.Parameter[*cpu.CPUBackend]) [][]float32 {
	out := make([][]float32, len(params))
	for i, p := range params {
		out[i] = append([]float32(nil), p.Tensor().Data()...)
	}
	return out
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	for _, kind := range []string{model.KindDepthInvariant, model.KindGalerkin} {
		t.Run(kind, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "model.safetensors")
			src := smallModel(t, kind, 1)
			require.NoError(t, checkpoint.Save(path, src.Parameters(), map[string]string{"kind": kind}))

			dst := smallModel(t, kind, 2)
			require.NotEqual(t, values(src.Parameters()), values(dst.Parameters()))

			meta, err := checkpoint.Load(path, dst.Parameters())
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"kind": kind}, meta)
			assert.Equal(t, values(src.Parameters()), values(dst.Parameters()))

			x := tensor.Ones[float32](tensor.Shape{1, 1, 8, 8}, cpu.New())
			assert.Equal(t, src.Forward(x).Data(), dst.Forward(x).Data())
		})
	}
}

func TestSave_Layout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.safetensors")
	backend := cpu.New()
	a, err := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, backend)
	require.NoError(t, err)
	b, err := tensor.FromSlice([]float32{7}, tensor.Shape{1}, backend)
	require.NoError(t, err)
	params := []*nn.Parameter[*cpu.CPUBackend]{nn.NewParameter("weight", a), nn.NewParameter("bias", b)}
	require.NoError(t, checkpoint.Save(path, params, nil))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	size := binary.LittleEndian.Uint64(raw[:8])

	var h map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw[8:8+size], &h))
	assert.Contains(t, h, "000.weight")
	assert.Contains(t, h, "001.bias")
	assert.Contains(t, h, "__metadata__")

	var info struct {
		DType       string   `json:"dtype"`
		Shape       []int    `json:"shape"`
		DataOffsets [2]int64 `json:"data_offsets"`
	}
	require.NoError(t, json.Unmarshal(h["001.bias"], &info))
	assert.Equal(t, "F32", info.DType)
	assert.Equal(t, []int{1}, info.Shape)
	assert.Equal(t, [2]int64{24, 28}, info.DataOffsets)
	assert.Len(t, raw, int(8+size+28))
	assert.Equal(t, "000.weight", checkpoint.TensorName(0, "weight"))
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.safetensors")
	src := smallModel(t, model.KindDepthInvariant, 1)
	require.NoError(t, checkpoint.Save(path, src.Parameters(), nil))

	t.Run("missing file", func(t *testing.T) {
		_, err := checkpoint.Load(filepath.Join(dir, "nope"), src.Parameters())
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("other architecture", func(t *testing.T) {
		other := smallModel(t, model.KindGalerkin, 1)
		before := values(other.Parameters())
		_, err := checkpoint.Load(path, other.Parameters())
		assert.ErrorIs(t, err, checkpoint.ErrMismatch)
		assert.Equal(t, before, values(other.Parameters()), "nothing is written on failure")
	})

	t.Run("corrupted data", func(t *testing.T) {
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		raw[len(raw)-1] ^= 0xff
		bad := filepath.Join(dir, "bad.safetensors")
		require.NoError(t, os.WriteFile(bad, raw, 0o644))

		_, err = checkpoint.Load(bad, src.Parameters())
		assert.ErrorIs(t, err, checkpoint.ErrChecksumMismatch)
	})

	t.Run("truncated", func(t *testing.T) {
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		bad := filepath.Join(dir, "short.safetensors")
		require.NoError(t, os.WriteFile(bad, raw[:len(raw)-8], 0o644))

		_, err = checkpoint.Load(bad, src.Parameters())
		assert.Error(t, err)
	})

	t.Run("malformed tensor entries", func(t *testing.T) {
		w, err := tensor.FromSlice([]float32{1, 2}, tensor.Shape{2}, cpu.New())
		require.NoError(t, err)
		params := []*nn.Parameter[*cpu.CPUBackend]{nn.NewParameter("w", w)}

		headers := map[string]string{
			"negative dim":      `{"000.w":{"dtype":"F32","shape":[-1],"data_offsets":[0,-4]}}`,
			"reversed offsets":  `{"000.w":{"dtype":"F32","shape":[2],"data_offsets":[8,0]}}`,
			"past end of file":  `{"000.w":{"dtype":"F32","shape":[1073741824],"data_offsets":[0,4294967296]}}`,
			"size without data": `{"000.w":{"dtype":"F32","shape":[3],"data_offsets":[0,8]}}`,
		}
		for name, header := range headers {
			t.Run(name, func(t *testing.T) {
				raw := binary.LittleEndian.AppendUint64(nil, uint64(len(header)))
				raw = append(raw, header...)
				raw = append(raw, make([]byte, 8)...)
				bad := filepath.Join(t.TempDir(), "bad.safetensors")
				require.NoError(t, os.WriteFile(bad, raw, 0o644))

				assert.NotPanics(t, func() {
					_, err = checkpoint.Load(bad, params)
				})
				assert.Error(t, err)
				assert.Equal(t, []float32{1, 2}, w.Data())
			})
		}
	})

	t.Run("huge header", func(t *testing.T) {
		bad := filepath.Join(dir, "huge.safetensors")
		buf := binary.LittleEndian.AppendUint64(nil, 1<<40)
		require.NoError(t, os.WriteFile(bad, buf, 0o644))

		_, err := checkpoint.Load(bad, src.Parameters())
		assert.ErrorIs(t, err, checkpoint.ErrHeaderTooLarge)
	})
}
