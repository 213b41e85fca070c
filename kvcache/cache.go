// Package kvcache - Physischer Cache und Allokation
//
// Dieses Modul enthaelt den physischen Cache (ein Key/Value-Paar pro
// Modell-Layer) und Allocate, das alle Layer null-initialisiert auf dem
// gebundenen Geraet anlegt. Allocate ist alles-oder-nichts.
package kvcache

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/dustin/go-humanize"

	"github.com/ollama/kvworker/ml"
)

// LayerCache holds the key and value stores of one layer. Both tensors have
// the same shape.
type LayerCache struct {
	Key   ml.Tensor
	Value ml.Tensor
}

// Cache is the physical cache of a worker, indexed by layer id. It is never
// resized; a different capacity needs a new Allocate.
type Cache struct {
	Layers []LayerCache

	Spec     Spec
	Capacity Capacity
	Layout   string
}

func (c *Cache) NumLayers() int {
	return len(c.Layers)
}

// Shape is the shape of every key and value tensor in the cache.
func (c *Cache) Shape() []int {
	if len(c.Layers) == 0 {
		return nil
	}
	return c.Layers[0].Key.Shape()
}

// NBytes is the device memory held by the cache.
func (c *Cache) NBytes() uint64 {
	var n uint64
	for _, l := range c.Layers {
		n += l.Key.NBytes() + l.Value.NBytes()
	}
	return n
}

// Release frees every tensor of the cache on backend. The cache must not be
// used afterwards.
func (c *Cache) Release(backend ml.Backend) {
	for _, l := range c.Layers {
		if l.Key != nil {
			backend.Release(l.Key)
		}
		if l.Value != nil {
			backend.Release(l.Value)
		}
	}
	c.Layers = nil
}

func (c *Cache) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("layers", c.NumLayers()),
		slog.Any("shape", c.Shape()),
		slog.String("layout", c.Layout),
		slog.Any("capacity", c.Capacity),
		slog.String("size", humanize.IBytes(c.NBytes())),
	)
}

// Allocate creates the physical cache for capacity on backend: one zeroed
// key store and one zeroed value store per layer, shaped by layout. On error
// everything allocated so far is released again.
func Allocate(backend ml.Backend, layout Layout, spec Spec, capacity Capacity) (*Cache, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	if capacity.DeviceBlocks < 0 || capacity.HostBlocks < 0 {
		return nil, fmt.Errorf("invalid capacity %+v", capacity)
	}

	// the footprint counts layout elements, the device stores dtype elements
	if size := layout.ElementSize(spec.DType); size != spec.DType.Size() {
		return nil, fmt.Errorf("layout %s stores %v in %d bytes, device stores %d", layout.Name(), spec.DType, size, spec.DType.Size())
	}

	shape := layout.Shape(capacity.DeviceBlocks, spec.BlockSize, spec.NumKVHeads, spec.HeadSize)
	cache := &Cache{
		Layers:   make([]LayerCache, 0, spec.NumLayers),
		Spec:     spec,
		Capacity: capacity,
		Layout:   layout.Name(),
	}

	for i := range spec.NumLayers {
		key, err := backend.Zeros(spec.DType, shape...)
		if err != nil {
			cache.Release(backend)
			return nil, fmt.Errorf("allocate layer %d key: %w", i, err)
		}

		value, err := backend.Zeros(spec.DType, slices.Clone(shape)...)
		if err != nil {
			backend.Release(key)
			cache.Release(backend)
			return nil, fmt.Errorf("allocate layer %d value: %w", i, err)
		}

		cache.Layers = append(cache.Layers, LayerCache{Key: key, Value: value})
	}

	slog.Info("kv cache allocated", "cache", cache)
	return cache, nil
}
