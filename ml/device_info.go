// device_info.go
// Dieses Modul enthaelt die DeviceInfo-Strukturen und zugehoerige Funktionen
// fuer Geraete-Identifikation und Speicherangaben.

package ml

import (
	"log/slog"

	"github.com/dustin/go-humanize"
)

// Minimal unique device identification
type DeviceID struct {
	// ID is an identifier for the device. The ID is only unique for other
	// devices using the same Library.
	ID string `json:"id"`

	// Library identifies which device kind is used for the device (e.g. tpu)
	Library string `json:"backend,omitempty"`
}

type DeviceInfo struct {
	DeviceID

	// Name is the name of the device as labeled by the backend. It
	// may not be persistent across instances of the worker.
	Name string `json:"name"`

	// Description is the longer user-friendly identification of the device
	Description string `json:"description"`

	// TotalMemory is the total amount of memory the device can use
	TotalMemory uint64 `json:"total_memory"`

	// FreeMemory is the amount of memory currently available on the device
	FreeMemory uint64 `json:"free_memory,omitempty"`
}

func (d DeviceInfo) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", d.ID),
		slog.String("library", d.Library),
		slog.String("name", d.Name),
		slog.String("total", humanize.IBytes(d.TotalMemory)),
		slog.String("free", humanize.IBytes(d.FreeMemory)),
	)
}
