// types.go - Datentypen und Konstanten fuer ML-Operationen
// Dieses Modul definiert DType (Speicher-Praezision) samt Elementgroesse
// und die Aufloesung von Praezisionsnamen.
package ml

import (
	"fmt"
	"log/slog"
	"strings"
)

// DType represents the data type of tensor elements.
type DType int

const (
	DTypeOther DType = iota
	DTypeF32
	DTypeF16
	DTypeBF16
	DTypeFP8E5M2
)

// Size returns the number of bytes of a single element. DTypeOther has no
// defined size and reports 0.
func (t DType) Size() int {
	switch t {
	case DTypeF32:
		return 4
	case DTypeF16, DTypeBF16:
		return 2
	case DTypeFP8E5M2:
		return 1
	default:
		return 0
	}
}

func (t DType) String() string {
	switch t {
	case DTypeF32:
		return "float32"
	case DTypeF16:
		return "float16"
	case DTypeBF16:
		return "bfloat16"
	case DTypeFP8E5M2:
		return "fp8_e5m2"
	default:
		return "unknown"
	}
}

func (t DType) LogValue() slog.Value {
	return slog.StringValue(t.String())
}

// dtypeNames bildet alle akzeptierten Schreibweisen auf einen DType ab
var dtypeNames = map[string]DType{
	"float32":  DTypeF32,
	"float":    DTypeF32,
	"f32":      DTypeF32,
	"float16":  DTypeF16,
	"half":     DTypeF16,
	"f16":      DTypeF16,
	"bfloat16": DTypeBF16,
	"bf16":     DTypeBF16,
	"fp8":      DTypeFP8E5M2,
	"fp8_e5m2": DTypeFP8E5M2,
}

// ParseDType resolves a precision name. "auto" is not a precision and must be
// resolved by the caller against the model dtype.
func ParseDType(s string) (DType, error) {
	if t, ok := dtypeNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t, nil
	}

	return DTypeOther, fmt.Errorf("unsupported dtype %q", s)
}
