// Package checkpoint saves and restores model parameters as SafeTensors
// files.
//
// Format:
//
//	[8 bytes: header_size (uint64 LE)]
//	[header_size bytes: JSON header]
//	[tensor data: raw little-endian F32 bytes]
//
// Parameters are stored under "<index>.<name>" (index zero-padded to three
// digits) so names stay unique and sort in model order. The header metadata
// carries a SHA-256 of the data section, verified on load.
package checkpoint

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/born-ml/neuralode/internal/nn"
	"github.com/born-ml/neuralode/internal/tensor"
)

// Errors returned by Load.
var (
	ErrChecksumMismatch = errors.New("checkpoint: checksum mismatch: file may be corrupted")
	ErrHeaderTooLarge   = errors.New("checkpoint: header exceeds maximum size")
	ErrMismatch         = errors.New("checkpoint: parameters do not match model")
)

const (
	metadataKey   = "__metadata__"
	checksumKey   = "sha256"
	maxHeaderSize = 100 << 20
	dtypeF32      = "F32"
)

// tensorInfo describes one tensor in the header.
type tensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

type header struct {
	metadata map[string]string
	tensors  map[string]tensorInfo
}

func (h header) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(h.tensors)+1)
	if len(h.metadata) > 0 {
		m[metadataKey] = h.metadata
	}
	for name, info := range h.tensors {
		m[name] = info
	}
	return json.Marshal(m)
}

func (h *header) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	h.tensors = make(map[string]tensorInfo, len(raw))
	for key, value := range raw {
		if key == metadataKey {
			if err := json.Unmarshal(value, &h.metadata); err != nil {
				return fmt.Errorf("metadata: %w", err)
			}
			continue
		}
		var info tensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return fmt.Errorf("tensor %s: %w", key, err)
		}
		h.tensors[key] = info
	}
	return nil
}

// TensorName returns the key parameter i is stored under.
func TensorName(i int, name string) string {
	return fmt.Sprintf("%03d.%s", i, name)
}

// Save writes params and metadata to path. The file is replaced atomically.
func Save[B tensor.Backend](path string, params []*nn.Parameter[B], metadata map[string]string) error {
	names := make([]string, len(params))
	byName := make(map[string]*tensor.RawTensor, len(params))
	for i, p := range params {
		raw := p.Tensor().Raw()
		if raw.DType() != tensor.Float32 {
			return fmt.Errorf("checkpoint: parameter %s has dtype %s, want float32", p.Name(), raw.DType())
		}
		names[i] = TensorName(i, p.Name())
		byName[names[i]] = raw
	}
	sort.Strings(names)

	h := header{metadata: make(map[string]string, len(metadata)+1), tensors: make(map[string]tensorInfo, len(names))}
	for k, v := range metadata {
		h.metadata[k] = v
	}

	sum := sha256.New()
	var offset int64
	for _, name := range names {
		raw := byName[name]
		size := int64(raw.ByteSize())
		h.tensors[name] = tensorInfo{
			DType:       dtypeF32,
			Shape:       append([]int(nil), raw.Shape()...),
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
		sum.Write(raw.Data())
	}
	h.metadata[checksumKey] = hex.EncodeToString(sum.Sum(nil))

	headerJSON, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal header: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	err = binary.Write(w, binary.LittleEndian, uint64(len(headerJSON)))
	if err == nil {
		_, err = w.Write(headerJSON)
	}
	for _, name := range names {
		if err != nil {
			break
		}
		_, err = w.Write(byName[name].Data())
	}
	if err == nil {
		err = w.Flush()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("checkpoint: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// Load restores params from path and returns the stored metadata. Every
// parameter must be present with the same name and shape; nothing is
// modified unless the whole file validates.
func Load[B tensor.Backend](path string, params []*nn.Parameter[B]) (map[string]string, error) {
	//nolint:gosec // G304: checkpoint path is user supplied
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	r := bufio.NewReader(f)

	h, err := readHeader(r)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %s: %w", path, err)
	}
	if len(h.tensors) != len(params) {
		return nil, fmt.Errorf("%w: file has %d tensors, model has %d parameters", ErrMismatch, len(h.tensors), len(params))
	}

	names := make([]string, 0, len(h.tensors))
	for name := range h.tensors {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return h.tensors[names[i]].DataOffsets[0] < h.tensors[names[j]].DataOffsets[0]
	})

	data := make(map[string][]byte, len(names))
	sum := sha256.New()
	var offset int64
	for _, name := range names {
		info := h.tensors[name]
		if info.DType != dtypeF32 {
			return nil, fmt.Errorf("checkpoint: tensor %s has dtype %s, want %s", name, info.DType, dtypeF32)
		}
		shape := tensor.Shape(info.Shape)
		if err := shape.Validate(); err != nil {
			return nil, fmt.Errorf("checkpoint: tensor %s: %w", name, err)
		}
		// Offsets are relative to the end of the header, so no tensor can
		// end past the file size.
		start, end := info.DataOffsets[0], info.DataOffsets[1]
		if start != offset || end < start || end > st.Size() {
			return nil, fmt.Errorf("checkpoint: tensor %s has invalid data offsets %v", name, info.DataOffsets)
		}
		size := end - start
		if size != 4*int64(shape.NumElements()) {
			return nil, fmt.Errorf("checkpoint: tensor %s has %d bytes for shape %v", name, size, info.Shape)
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("checkpoint: tensor %s: %w", name, err)
		}
		sum.Write(buf)
		data[name] = buf
		offset += size
	}

	if want, ok := h.metadata[checksumKey]; ok && want != hex.EncodeToString(sum.Sum(nil)) {
		return nil, ErrChecksumMismatch
	}

	for i, p := range params {
		name := TensorName(i, p.Name())
		info, ok := h.tensors[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing tensor %s", ErrMismatch, name)
		}
		if !tensor.Shape(info.Shape).Equal(p.Tensor().Shape()) {
			return nil, fmt.Errorf("%w: tensor %s has shape %v, parameter has %v",
				ErrMismatch, name, info.Shape, p.Tensor().Shape())
		}
	}
	for i, p := range params {
		copy(p.Tensor().Raw().Data(), data[TensorName(i, p.Name())])
	}

	return publicMetadata(h.metadata), nil
}

// ReadMetadata returns the metadata stored in path without reading tensor
// data.
func ReadMetadata(path string) (map[string]string, error) {
	//nolint:gosec // G304: checkpoint path is user supplied
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	defer f.Close()

	h, err := readHeader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %s: %w", path, err)
	}
	return publicMetadata(h.metadata), nil
}

func publicMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if k != checksumKey {
			out[k] = v
		}
	}
	return out
}

func readHeader(r io.Reader) (header, error) {
	var size uint64
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return header{}, fmt.Errorf("read header size: %w", err)
	}
	if size > maxHeaderSize {
		return header{}, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return header{}, fmt.Errorf("read header: %w", err)
	}
	var h header
	if err := json.Unmarshal(buf, &h); err != nil {
		return header{}, fmt.Errorf("parse header: %w", err)
	}
	return h, nil
}
