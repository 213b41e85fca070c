// tensor.go - Tensoren des emulierten Backends
//
// Dieses Modul enthaelt die Tensor-Implementierung mit Element-Konvertierung
// fuer float32, float16, bfloat16 und fp8_e5m2.
package emulator

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/ollama/kvworker/ml"
)

type Tensor struct {
	backend *Backend
	dtype   ml.DType
	shape   []int
	data    []byte
}

func (t *Tensor) Dim(n int) int {
	return t.shape[n]
}

func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

func (t *Tensor) DType() ml.DType {
	return t.dtype
}

func (t *Tensor) NBytes() uint64 {
	return uint64(len(t.data))
}

func (t *Tensor) Bytes() []byte {
	return t.data
}

func (t *Tensor) Floats() []float32 {
	n := len(t.data) / t.dtype.Size()
	switch t.dtype {
	case ml.DTypeF32:
		f32s := make([]float32, n)
		for i := range f32s {
			f32s[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.data[i*4:]))
		}
		return f32s
	case ml.DTypeF16:
		f32s := make([]float32, n)
		for i := range f32s {
			f32s[i] = float16.Frombits(binary.LittleEndian.Uint16(t.data[i*2:])).Float32()
		}
		return f32s
	case ml.DTypeBF16:
		return bfloat16.DecodeFloat32(t.data)
	case ml.DTypeFP8E5M2:
		// e5m2 is the upper byte of an IEEE half
		f32s := make([]float32, n)
		for i, b := range t.data {
			f32s[i] = float16.Frombits(uint16(b) << 8).Float32()
		}
		return f32s
	default:
		panic(fmt.Errorf("unsupported dtype %v", t.dtype))
	}
}

func (t *Tensor) FromFloats(s []float32) {
	if len(s)*t.dtype.Size() != len(t.data) {
		panic(fmt.Errorf("size mismatch: tensor %v holds %d elements, got %d", t.shape, len(t.data)/t.dtype.Size(), len(s)))
	}

	switch t.dtype {
	case ml.DTypeF32:
		for i, f := range s {
			binary.LittleEndian.PutUint32(t.data[i*4:], math.Float32bits(f))
		}
	case ml.DTypeF16:
		for i, f := range s {
			binary.LittleEndian.PutUint16(t.data[i*2:], float16.Fromfloat32(f).Bits())
		}
	case ml.DTypeBF16:
		copy(t.data, bfloat16.EncodeFloat32(s))
	case ml.DTypeFP8E5M2:
		for i, f := range s {
			t.data[i] = uint8(float16.Fromfloat32(f).Bits() >> 8)
		}
	default:
		panic(fmt.Errorf("unsupported dtype %v", t.dtype))
	}
}
