// backend.go - Emuliertes Beschleuniger-Backend
//
// Dieses Modul registriert das Backend fuer die Geraete-Art "tpu" und
// bildet den Geraete-Speicher im Host-Speicher nach. Die Kapazitaet des
// Geraets wird erzwungen, so dass Allokationen wie auf echter Hardware
// mit ErrNoMem scheitern koennen.
package emulator

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/ollama/kvworker/envconfig"
	"github.com/ollama/kvworker/ml"
)

// Kind is the device kind this backend registers for
const Kind = "tpu"

// defaultMemory is used when the system memory cannot be determined
const defaultMemory = 8 << 30

func init() {
	ml.RegisterBackend(Kind, New, Devices)
}

// Devices reports the emulated devices. There is exactly one.
func Devices() []ml.DeviceInfo {
	total := envconfig.EmulatorMemory()
	if total == 0 {
		total = systemMemory()
	}

	return []ml.DeviceInfo{{
		DeviceID:    ml.DeviceID{ID: "0", Library: Kind},
		Name:        "TPU0",
		Description: "emulated accelerator (host memory)",
		TotalMemory: total,
		FreeMemory:  total,
	}}
}

type Backend struct {
	mu sync.Mutex

	device ml.DeviceInfo
	limit  uint64

	// allocations in creation order; nil entries were released
	tensors []*Tensor
	used    uint64
}

// New binds the emulated device selected by params.DeviceID.
func New(params ml.BackendParams) (ml.Backend, error) {
	id := params.DeviceID
	if id == "" {
		id = "0"
	}

	for _, d := range Devices() {
		if d.ID != id {
			continue
		}

		limit := d.TotalMemory
		if params.MemoryLimit != 0 && params.MemoryLimit < limit {
			limit = params.MemoryLimit
			d.TotalMemory = limit
			d.FreeMemory = limit
		}

		slog.Debug("emulated device bound", "device", d)
		return &Backend{device: d, limit: limit}, nil
	}

	return nil, fmt.Errorf("%s device %q not found", Kind, id)
}

func (b *Backend) Device() ml.DeviceInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.device
	d.FreeMemory = b.limit - b.used
	return d
}

func (b *Backend) Zeros(dtype ml.DType, shape ...int) (ml.Tensor, error) {
	if dtype.Size() == 0 {
		return nil, fmt.Errorf("cannot allocate tensor of dtype %v", dtype)
	}

	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("invalid shape %v", shape)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// a size beyond 64 bits cannot fit on any device
	size, ok := ml.TensorBytes(dtype, shape...)
	if !ok {
		return nil, ml.ErrNoMem{DeviceMemory: b.memoryLocked(), Requested: math.MaxUint64}
	}

	if size > b.limit-b.used {
		return nil, ml.ErrNoMem{DeviceMemory: b.memoryLocked(), Requested: size}
	}

	t := &Tensor{
		backend: b,
		dtype:   dtype,
		shape:   append([]int(nil), shape...),
		data:    make([]byte, size),
	}

	b.tensors = append(b.tensors, t)
	b.used += size
	return t, nil
}

func (b *Backend) Release(t ml.Tensor) {
	et, ok := t.(*Tensor)
	if !ok || et.backend != b {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i, x := range b.tensors {
		if x == et {
			b.used -= uint64(len(et.data))
			b.tensors[i] = nil
			et.data = nil
			return
		}
	}
}

func (b *Backend) BackendMemory() ml.DeviceMemory {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.memoryLocked()
}

func (b *Backend) memoryLocked() ml.DeviceMemory {
	m := ml.DeviceMemory{
		DeviceID: b.device.DeviceID,
		Name:     b.device.Name,
		Total:    b.limit,
	}

	for _, t := range b.tensors {
		if t != nil {
			m.Cache = append(m.Cache, uint64(len(t.data)))
		}
	}

	return m
}

func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range b.tensors {
		if t != nil {
			t.data = nil
		}
	}

	b.tensors = nil
	b.used = 0
}
