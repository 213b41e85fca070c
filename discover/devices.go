// Modul: devices.go
// Beschreibung: Geraete-Erkennung fuer den konfigurierten Beschleuniger-Typ.
// Enthaelt Devices (Aufzaehlung mit Cache) und Select (Auswahl per ID).

package discover

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ollama/kvworker/ml"
)

var ErrNoDevice = errors.New("no such device")

var (
	deviceMu sync.Mutex
	devices  = make(map[string][]ml.DeviceInfo)
)

// Devices enumerates the devices of kind. The first enumeration of a kind is
// remembered; Refresh forces a new one.
func Devices(kind string) []ml.DeviceInfo {
	deviceMu.Lock()
	defer deviceMu.Unlock()

	if d, ok := devices[kind]; ok {
		return d
	}

	start := time.Now()
	d := ml.Devices(kind)
	slog.Debug("device discovery took", "kind", kind, "duration", time.Since(start))
	for _, dev := range d {
		slog.Info("inference compute", "kind", kind, "device", dev)
	}

	devices[kind] = d
	return d
}

// Refresh drops remembered enumerations.
func Refresh() {
	deviceMu.Lock()
	defer deviceMu.Unlock()
	clear(devices)
}

// Select returns the device of kind with the given id. An empty id selects
// the first device.
func Select(kind, id string) (ml.DeviceInfo, error) {
	d := Devices(kind)
	if len(d) == 0 {
		return ml.DeviceInfo{}, fmt.Errorf("%w: no %s devices found", ErrNoDevice, kind)
	}

	if id == "" {
		return d[0], nil
	}

	for _, dev := range d {
		if dev.ID == id {
			return dev, nil
		}
	}

	return ml.DeviceInfo{}, fmt.Errorf("%w: %s device %q", ErrNoDevice, kind, id)
}
