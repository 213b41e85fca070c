// device_memory.go
// Dieses Modul enthaelt die Speicher-bezogenen Typen und Funktionen fuer
// die Verwaltung von Geraete-Speicher.

package ml

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dustin/go-humanize"
)

// ErrNoMem is returned when a device allocation does not fit. It includes
// the attempted memory allocation.
type ErrNoMem struct {
	DeviceMemory

	// Requested is the size of the allocation that failed
	Requested uint64
}

func (e ErrNoMem) Error() string {
	return fmt.Sprintf("insufficient memory - requested %s, allocated: %+v", humanize.IBytes(e.Requested), e.DeviceMemory)
}

// DeviceMemory provides a breakdown of the memory allocated on a device.
type DeviceMemory struct {
	DeviceID

	// Name is the name of the device as labeled by the backend
	Name string

	// Cache is the per-layer memory allocated for the KV cache.
	Cache []uint64

	// Total is the memory the device can hold
	Total uint64
}

func sumMemory(mem []uint64) uint64 {
	var sum uint64

	for _, m := range mem {
		sum += m
	}

	return sum
}

// Size returns the total size of the memory allocated on this device
func (m DeviceMemory) Size() uint64 {
	return sumMemory(m.Cache)
}

func memoryPresent(mem []uint64) bool {
	return slices.ContainsFunc(mem, func(m uint64) bool { return m != 0 })
}

func (m DeviceMemory) LogValue() slog.Value {
	var attrs []slog.Attr
	if memoryPresent(m.Cache) {
		attrs = append(attrs, slog.Any("Cache", m.Cache))
	}

	if m.Total != 0 {
		attrs = append(attrs, slog.Any("Total", m.Total))
	}

	if len(attrs) > 0 && m.ID != "" {
		attrs = append([]slog.Attr{slog.String("ID", m.ID)}, attrs...)
	}

	return slog.GroupValue(attrs...)
}

// Log prints a high level summary of the memory
func (m DeviceMemory) Log(level slog.Level) {
	if sum := sumMemory(m.Cache); sum > 0 {
		slog.Log(context.TODO(), level, "kv cache", "device", m.Name, "size", humanize.IBytes(sum))
	}

	if m.Total > 0 {
		slog.Log(context.TODO(), level, "device memory", "device", m.Name, "used", humanize.IBytes(m.Size()), "total", humanize.IBytes(m.Total))
	}
}
