// types_test.go - Tests fuer DType und Praezisionsnamen
package ml

import (
	"testing"
)

// TestParseDType prueft alle akzeptierten Schreibweisen
func TestParseDType(t *testing.T) {
	cases := []struct {
		name string
		want DType
		size int
	}{
		{"float32", DTypeF32, 4},
		{"float", DTypeF32, 4},
		{"F32", DTypeF32, 4},
		{"half", DTypeF16, 2},
		{"float16", DTypeF16, 2},
		{"bfloat16", DTypeBF16, 2},
		{" bf16 ", DTypeBF16, 2},
		{"fp8", DTypeFP8E5M2, 1},
		{"fp8_e5m2", DTypeFP8E5M2, 1},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDType(tt.name)
			if err != nil {
				t.Fatalf("ParseDType(%q): unerwarteter Fehler %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("ParseDType(%q) = %v, erwartet %v", tt.name, got, tt.want)
			}
			if got.Size() != tt.size {
				t.Errorf("%v.Size() = %d, erwartet %d", got, got.Size(), tt.size)
			}
		})
	}
}

// TestParseDTypeUnknown prueft die Ablehnung unbekannter Namen
func TestParseDTypeUnknown(t *testing.T) {
	for _, name := range []string{"", "auto", "int4", "q8_0"} {
		if got, err := ParseDType(name); err == nil {
			t.Errorf("ParseDType(%q) = %v, Fehler erwartet", name, got)
		}
	}

	if DTypeOther.Size() != 0 {
		t.Errorf("DTypeOther.Size() = %d, erwartet 0", DTypeOther.Size())
	}
}

// TestElements prueft die Elementanzahl einer Form
func TestElements(t *testing.T) {
	if n := Elements(8, 2000, 16, 128); n != 32768000 {
		t.Errorf("Elements = %d, erwartet 32768000", n)
	}
	if n := Elements(); n != 1 {
		t.Errorf("Elements() = %d, erwartet 1", n)
	}
	if n := Elements(8, 0, 16); n != 0 {
		t.Errorf("Elements mit 0 = %d, erwartet 0", n)
	}
}

// TestTensorBytes prueft die Groessenberechnung inklusive Ueberlauf
func TestTensorBytes(t *testing.T) {
	cases := []struct {
		name  string
		dtype DType
		shape []int
		want  uint64
		ok    bool
	}{
		{"kv layer", DTypeF16, []int{8, 2000, 16, 128}, 65536000, true},
		{"scalar", DTypeF32, nil, 4, true},
		{"zero dim", DTypeBF16, []int{0, 1 << 62, 1 << 62}, 0, true},
		{"negative", DTypeF32, []int{4, -1}, 0, false},
		{"overflow", DTypeF16, []int{2, 1 << 60, 4, 8}, 0, false},
		{"overflow by dtype", DTypeF32, []int{1 << 62}, 0, false},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := TensorBytes(tt.dtype, tt.shape...)
			if n != tt.want || ok != tt.ok {
				t.Errorf("TensorBytes = (%d, %v), erwartet (%d, %v)", n, ok, tt.want, tt.ok)
			}
		})
	}
}
