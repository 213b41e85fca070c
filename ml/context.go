// context.go - Tensor-Interface und Geraete-Kontext
// Dieses Modul definiert die Tensor-Schnittstelle des Caches und den
// expliziten DeviceContext, der nach Init an alle Geraete-Aufrufe
// weitergereicht wird.
package ml

import (
	"log/slog"
	"math/bits"
	"math/rand/v2"
)

// Tensor represents a multi-dimensional array resident on a device.
type Tensor interface {
	Dim(n int) int
	Shape() []int
	DType() DType

	// NBytes is the size of the underlying storage
	NBytes() uint64

	Bytes() []byte
	Floats() []float32

	FromFloats([]float32)
}

// Elements returns the number of elements described by shape.
func Elements(shape ...int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// TensorBytes is the storage size of a tensor of dtype and shape. ok is false
// if a dimension is negative or the size does not fit into 64 bits.
func TensorBytes(dtype DType, shape ...int) (n uint64, ok bool) {
	n = uint64(dtype.Size())
	for _, d := range shape {
		if d < 0 {
			return 0, false
		}

		hi, lo := bits.Mul64(n, uint64(d))
		if hi != 0 {
			return 0, false
		}
		n = lo
	}
	return n, true
}

// ArtifactCache stores compiled artifacts so that repeated process starts do
// not pay for the same compilation twice.
type ArtifactCache interface {
	Get(name string) ([]byte, bool, error)
	Put(name string, data []byte) error
}

// DeviceContext is the device binding produced by worker initialization.
// It is created once and read-only afterwards, except for the sampling
// random state which advances as it is used.
type DeviceContext struct {
	Backend Backend
	Device  DeviceInfo

	// DType is the numeric working precision, fixed to the model dtype
	DType DType

	// InferenceOnly is always true for workers; no gradient state is kept
	InferenceOnly bool

	Seed uint64

	// Artifacts may be nil if no persistent cache is configured
	Artifacts ArtifactCache

	rng *rand.Rand
}

func NewDeviceContext(backend Backend, dtype DType, seed uint64, artifacts ArtifactCache) *DeviceContext {
	return &DeviceContext{
		Backend:       backend,
		Device:        backend.Device(),
		DType:         dtype,
		InferenceOnly: true,
		Seed:          seed,
		Artifacts:     artifacts,
		rng:           rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Rand returns the deterministic random state used for sampling.
func (c *DeviceContext) Rand() *rand.Rand {
	return c.rng
}

func (c *DeviceContext) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("device", c.Device),
		slog.Any("dtype", c.DType),
		slog.Uint64("seed", c.Seed),
		slog.Bool("inference_only", c.InferenceOnly),
	)
}
