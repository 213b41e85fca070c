// Package worker - KV-Cache-Worker fuer genau einen Beschleuniger
//
// Dieses Paket enthaelt den Worker, der ein Geraet bindet, die
// Cache-Kapazitaet bestimmt, den Cache anlegt und aufwaermt und danach
// Schritte ausfuehrt. Die Reihenfolge ist fest:
//
//	New -> Init -> LoadModel -> ProbeCapacity -> Allocate -> ExecuteStep
//
// Aufrufe ausserhalb dieser Reihenfolge liefern einen LifecycleError.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ollama/kvworker/compilecache"
	"github.com/ollama/kvworker/discover"
	"github.com/ollama/kvworker/kvcache"
	"github.com/ollama/kvworker/ml"
	"github.com/ollama/kvworker/model"
	"github.com/ollama/kvworker/model/input"
)

type Worker struct {
	mu sync.Mutex

	config Config
	spec   kvcache.Spec
	layout kvcache.Layout
	runner model.Runner
	coord  Coordinator

	state  State
	loaded bool

	dc        *ml.DeviceContext
	artifacts *compilecache.Cache

	capacity kvcache.Capacity
	cache    *kvcache.Cache
}

// New checks config and creates a worker for runner. No device is touched
// until Init.
func New(config Config, runner model.Runner) (*Worker, error) {
	if runner == nil {
		return nil, configError("no model runner")
	}

	spec, layout, err := config.resolve()
	if err != nil {
		return nil, err
	}

	if config.Prober == nil {
		config.Prober = kvcache.FixedProber{Blocks: DefaultNumDeviceBlocks}
	}

	return &Worker{
		config: config,
		spec:   spec,
		layout: layout,
		runner: runner,
		coord:  NewCoordinator(runner),
	}, nil
}

// Init binds the configured device and opens the artifact cache. It may be
// called once.
func (w *Worker) Init(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateCreated {
		return &LifecycleError{Op: "init", State: w.state}
	}

	device, err := discover.Select(w.config.Device.Kind, w.config.Device.ID)
	if err != nil {
		return &DeviceError{Op: "init", Err: err}
	}

	backend, err := ml.NewBackend(w.config.Device.Kind, ml.BackendParams{
		DeviceID:    device.ID,
		MemoryLimit: w.config.Device.MemoryLimit,
	})
	if err != nil {
		return &DeviceError{Op: "init", Err: err}
	}

	var artifacts ml.ArtifactCache
	if w.config.CompileCacheDir != "" {
		w.artifacts, err = compilecache.Open(w.config.CompileCacheDir, compilecache.Key{
			Device:   w.config.Device.Kind,
			DeviceID: device.ID,
			Model:    w.config.Model.Name,
		}, false)
		if err != nil {
			backend.Close()
			return &DeviceError{Op: "init", Err: err}
		}
		artifacts = w.artifacts
	}

	w.dc = ml.NewDeviceContext(backend, w.config.Model.DType, w.config.Seed, artifacts)
	w.state = StateInitialized
	slog.Info("worker initialized", "context", w.dc, "cache", w.spec, "layout", w.layout.Name())
	return nil
}

// LoadModel loads the model on the bound device.
func (w *Worker) LoadModel(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateCreated || w.state == StateClosed || w.loaded {
		return &LifecycleError{Op: "load model", State: w.state}
	}

	start := time.Now()
	if err := w.runner.Load(ctx, w.dc); err != nil {
		return &DeviceError{Op: "load model", Err: err}
	}

	w.loaded = true
	slog.Info("model loaded", "model", w.config.Model, "duration", time.Since(start))
	return nil
}

// BlockBytes is the number of bytes one cache block occupies on the device,
// across all layers.
func (w *Worker) BlockBytes() uint64 {
	return w.spec.BlockBytes(w.layout)
}

// ProbeCapacity determines how many blocks the device holds. It may be
// called once, after Init.
func (w *Worker) ProbeCapacity(ctx context.Context) (kvcache.Capacity, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateInitialized {
		return kvcache.Capacity{}, &LifecycleError{Op: "probe capacity", State: w.state}
	}

	capacity, err := w.config.Prober.Probe(ctx, kvcache.ProbeInput{
		Device: w.dc.Backend.Device(),
		Spec:   w.spec,
		Layout: w.layout,
	})
	if err != nil {
		return kvcache.Capacity{}, &DeviceError{Op: "probe capacity", Err: err}
	}

	if capacity.HostBlocks != 0 {
		return kvcache.Capacity{}, configError("host cache is not supported, probe reported %d host blocks", capacity.HostBlocks)
	}

	w.capacity = capacity
	w.state = StateProbed
	slog.Info("cache capacity", "capacity", capacity, "block_bytes", w.spec.BlockBytes(w.layout))
	return capacity, nil
}

// Allocate creates the cache for capacity and warms it up. It may be
// repeated until the first step executes; the previous cache is released
// first. On failure nothing stays allocated and the worker is not ready.
func (w *Worker) Allocate(ctx context.Context, capacity kvcache.Capacity) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if (w.state != StateProbed && w.state != StateReady) || !w.loaded {
		return &LifecycleError{Op: "allocate", State: w.state}
	}

	if capacity.HostBlocks != 0 {
		return configError("host cache is not supported, got %d host blocks", capacity.HostBlocks)
	}

	if capacity.DeviceBlocks < 0 {
		return configError("device blocks must not be negative, got %d", capacity.DeviceBlocks)
	}

	backend := w.dc.Backend
	if w.cache != nil {
		w.cache.Release(backend)
		w.cache = nil
		w.state = StateProbed
	}

	cache, err := kvcache.Allocate(backend, w.layout, w.spec, capacity)
	if err != nil {
		return &DeviceError{Op: "allocate", Err: err}
	}

	start := time.Now()
	warmed, err := w.runner.Warmup(ctx, cache)
	if err != nil {
		if warmed != nil && warmed != cache {
			warmed.Release(backend)
		}
		cache.Release(backend)
		return &DeviceError{Op: "warmup", Err: err}
	}

	// the runner may have donated the cache buffers; only the returned cache
	// is valid then
	if warmed != nil {
		cache = warmed
	}

	w.cache = cache
	w.capacity = capacity
	w.state = StateReady
	slog.Info("worker ready", "cache", cache, "warmup", time.Since(start))
	backend.BackendMemory().Log(slog.LevelDebug)
	return nil
}

// ExecuteStep runs one step of batch against the cache.
func (w *Worker) ExecuteStep(ctx context.Context, batch input.Batch) (input.StepResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.state.CanExecute() {
		return nil, &LifecycleError{Op: "execute step", State: w.state}
	}

	result, err := w.coord.Execute(ctx, batch, w.cache)
	if err != nil {
		return nil, err
	}

	if w.state == StateReady {
		w.state = StateServing
		slog.Debug("worker serving")
	}
	return result, nil
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Capacity returns the probed capacity. The second result is false before
// ProbeCapacity.
func (w *Worker) Capacity() (kvcache.Capacity, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.capacity, w.state >= StateProbed && w.state != StateClosed
}

// Cache returns the current cache, nil before Allocate.
func (w *Worker) Cache() *kvcache.Cache {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cache
}

// DeviceContext returns the device binding, nil before Init.
func (w *Worker) DeviceContext() *ml.DeviceContext {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dc
}

// Spec returns the resolved cache spec.
func (w *Worker) Spec() kvcache.Spec {
	return w.spec
}

func (w *Worker) Config() Config {
	return w.config
}

// Close releases the cache, the device and the artifact cache.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateClosed {
		return nil
	}

	var err error
	if w.dc != nil {
		if w.cache != nil {
			w.cache.Release(w.dc.Backend)
			w.cache = nil
		}
		w.dc.Backend.Close()
	}

	if w.artifacts != nil {
		err = w.artifacts.Close()
	}

	w.state = StateClosed
	return err
}
