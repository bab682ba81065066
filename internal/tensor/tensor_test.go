package tensor

import (
	"testing"
)

func assertEqualShape(t *testing.T, expected, actual Shape, msg string) {
	t.Helper()
	if !expected.Equal(actual) {
		t.Errorf("%s: expected shape %v, got %v", msg, expected, actual)
	}
}

func TestDataTypeSize(t *testing.T) {
	tests := []struct {
		dtype DataType
		size  int
		name  string
	}{
		{Float32, 4, "float32"},
		{Float64, 8, "float64"},
		{Int32, 4, "int32"},
	}

	for _, tt := range tests {
		if got := tt.dtype.Size(); got != tt.size {
			t.Errorf("%s.Size() = %d, want %d", tt.name, got, tt.size)
		}
		if got := tt.dtype.String(); got != tt.name {
			t.Errorf("String() = %q, want %q", got, tt.name)
		}
	}
}

func TestShape_NumElementsAndStrides(t *testing.T) {
	s := Shape{2, 3, 4}
	if s.NumElements() != 24 {
		t.Errorf("NumElements = %d, want 24", s.NumElements())
	}
	strides := s.ComputeStrides()
	want := []int{12, 4, 1}
	for i := range want {
		if strides[i] != want[i] {
			t.Errorf("stride[%d] = %d, want %d", i, strides[i], want[i])
		}
	}
	if (Shape{}).NumElements() != 1 {
		t.Error("scalar shape must have one element")
	}
}

func TestShape_Validate(t *testing.T) {
	if err := (Shape{2, 3}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (Shape{2, 0}).Validate(); err == nil {
		t.Error("expected error for zero dimension")
	}
}

func TestShape_NormalizeDim(t *testing.T) {
	s := Shape{2, 3, 4}
	if s.NormalizeDim(-1) != 2 {
		t.Error("-1 should resolve to the last dimension")
	}
	defer func() {
		if recover() == nil {
			t.Error("expected panic for out-of-range dim")
		}
	}()
	s.NormalizeDim(3)
}

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		a, b      Shape
		want      Shape
		broadcast bool
		wantErr   bool
	}{
		{Shape{3, 1}, Shape{3, 5}, Shape{3, 5}, true, false},
		{Shape{3, 5}, Shape{3, 5}, Shape{3, 5}, false, false},
		{Shape{4, 1, 28, 28}, Shape{1, 1, 1}, Shape{4, 1, 28, 28}, true, false},
		{Shape{3, 4}, Shape{3, 5}, nil, false, true},
	}

	for _, tt := range tests {
		got, broadcast, err := BroadcastShapes(tt.a, tt.b)
		if tt.wantErr {
			if err == nil {
				t.Errorf("BroadcastShapes(%v, %v): expected error", tt.a, tt.b)
			}
			continue
		}
		if err != nil {
			t.Fatalf("BroadcastShapes(%v, %v): %v", tt.a, tt.b, err)
		}
		assertEqualShape(t, tt.want, got, "broadcast")
		if broadcast != tt.broadcast {
			t.Errorf("BroadcastShapes(%v, %v) broadcast = %v, want %v", tt.a, tt.b, broadcast, tt.broadcast)
		}
	}
}

func TestRawTensor_CloneIsDeep(t *testing.T) {
	r, err := NewRaw(Shape{2, 2}, Float32, CPU)
	if err != nil {
		t.Fatal(err)
	}
	r.AsFloat32()[0] = 1

	c := r.Clone()
	c.AsFloat32()[0] = 2
	if r.AsFloat32()[0] != 1 {
		t.Error("clone must not share data")
	}
	assertEqualShape(t, r.Shape(), c.Shape(), "clone")
}

func TestRawTensor_ReshapedSharesData(t *testing.T) {
	r := MustNewRaw(Shape{2, 3}, Float32, CPU)
	v := r.Reshaped(Shape{6})
	v.AsFloat32()[5] = 7

	if r.AsFloat32()[5] != 7 {
		t.Error("reshaped view must share data")
	}
	if v == r {
		t.Error("reshaped view must be a distinct RawTensor")
	}
}

func TestRawTensor_WrongDTypePanics(t *testing.T) {
	r := MustNewRaw(Shape{2}, Int32, CPU)
	defer func() {
		if recover() == nil {
			t.Error("expected panic reading int32 tensor as float32")
		}
	}()
	r.AsFloat32()
}

func TestNewRaw_InvalidShape(t *testing.T) {
	if _, err := NewRaw(Shape{-1}, Float32, CPU); err == nil {
		t.Error("expected error for negative dimension")
	}
}
