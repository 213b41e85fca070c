// Package kvcache - Kapazitaets-Probe
//
// Dieses Modul enthaelt die Strategien, mit denen die Anzahl der
// Cache-Bloecke eines Geraets bestimmt wird:
// - FixedProber: feste Blockanzahl (Bring-up)
// - MemoryProber: abgeleitet aus dem freien Geraete-Speicher
// Ein Host-Cache wird nicht unterstuetzt, HostBlocks ist immer 0.
package kvcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/dustin/go-humanize"

	"github.com/ollama/kvworker/ml"
)

// Capacity is the number of cache blocks per storage tier.
type Capacity struct {
	DeviceBlocks int `json:"device_blocks"`
	HostBlocks   int `json:"host_blocks"`
}

func (c Capacity) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("device_blocks", c.DeviceBlocks),
		slog.Int("host_blocks", c.HostBlocks),
	)
}

// ProbeInput is what a Prober may base its decision on.
type ProbeInput struct {
	Device ml.DeviceInfo
	Spec   Spec
	Layout Layout
}

// Prober decides how many blocks the device budget holds. Results must be
// deterministic for a given input.
type Prober interface {
	Probe(ctx context.Context, in ProbeInput) (Capacity, error)
}

// FixedProber reports a constant number of device blocks.
type FixedProber struct {
	Blocks int
}

func (p FixedProber) Probe(_ context.Context, _ ProbeInput) (Capacity, error) {
	if p.Blocks < 0 {
		return Capacity{}, fmt.Errorf("fixed block count must not be negative, got %d", p.Blocks)
	}

	return Capacity{DeviceBlocks: p.Blocks}, nil
}

// MemoryProber fills a fraction of the device memory with blocks.
type MemoryProber struct {
	// Utilization is the fraction of total device memory the cache may use
	Utilization float64

	// Overhead is subtracted from the usable memory
	Overhead uint64
}

func (p MemoryProber) Probe(_ context.Context, in ProbeInput) (Capacity, error) {
	if p.Utilization <= 0 || p.Utilization > 1 {
		return Capacity{}, fmt.Errorf("memory utilization must be in (0, 1], got %v", p.Utilization)
	}

	if in.Layout == nil {
		return Capacity{}, errors.New("memory probe needs a cache layout")
	}

	blockBytes := in.Spec.BlockBytes(in.Layout)
	if blockBytes == 0 {
		return Capacity{}, fmt.Errorf("block footprint is zero for %+v", in.Spec)
	}

	usable := min(in.Device.FreeMemory, uint64(math.Floor(float64(in.Device.TotalMemory)*p.Utilization)))
	if usable <= p.Overhead {
		usable = 0
	} else {
		usable -= p.Overhead
	}

	blocks := usable / blockBytes
	slog.Debug("memory probe",
		"device", in.Device.Name,
		"usable", humanize.IBytes(usable),
		"block", humanize.IBytes(blockBytes),
		"blocks", blocks)

	return Capacity{DeviceBlocks: int(min(blocks, math.MaxInt32))}, nil
}

// NewProber selects a probe strategy by name.
func NewProber(name string, blocks int, utilization float64, overhead uint64) (Prober, error) {
	switch name {
	case "", "fixed":
		return FixedProber{Blocks: blocks}, nil
	case "memory":
		return MemoryProber{Utilization: utilization, Overhead: overhead}, nil
	default:
		return nil, fmt.Errorf("unknown capacity probe %q", name)
	}
}
