// backend.go - Backend-Interface und Registrierung fuer Beschleuniger
// Dieses Modul definiert das Backend-Interface und die Backend-Factory-Funktionen.
package ml

import (
	"fmt"
	"sort"
)

// Backend is a bound accelerator device that owns device memory.
type Backend interface {
	// Close frees all memory associated with this backend
	Close()

	Device() DeviceInfo

	// Zeros allocates a zero-initialized tensor on the device. It returns
	// ErrNoMem if the device cannot hold the allocation.
	Zeros(dtype DType, shape ...int) (Tensor, error)

	// Release returns the memory of a tensor created by Zeros
	Release(Tensor)

	// BackendMemory reports the memory currently allocated on the device
	BackendMemory() DeviceMemory
}

// BackendParams controls how a backend binds to its device
type BackendParams struct {
	// DeviceID selects the device within the backend's kind
	DeviceID string

	// MemoryLimit caps the device memory available to allocations. 0 means
	// the full device.
	MemoryLimit uint64
}

type backendEntry struct {
	newFn     func(BackendParams) (Backend, error)
	devicesFn func() []DeviceInfo
}

var backends = make(map[string]backendEntry)

// RegisterBackend registers a backend factory and device enumerator for a
// device kind.
func RegisterBackend(kind string, f func(BackendParams) (Backend, error), devices func() []DeviceInfo) {
	if _, ok := backends[kind]; ok {
		panic("backend: backend already registered")
	}

	backends[kind] = backendEntry{newFn: f, devicesFn: devices}
}

// NewBackend binds a backend of the given kind.
func NewBackend(kind string, params BackendParams) (Backend, error) {
	if b, ok := backends[kind]; ok {
		return b.newFn(params)
	}

	return nil, fmt.Errorf("unsupported backend %q", kind)
}

// Devices enumerates the devices of a kind. Unknown kinds have no devices.
func Devices(kind string) []DeviceInfo {
	if b, ok := backends[kind]; ok && b.devicesFn != nil {
		return b.devicesFn()
	}

	return nil
}

// Backends lists the registered device kinds in sorted order.
func Backends() []string {
	kinds := make([]string, 0, len(backends))
	for k := range backends {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
