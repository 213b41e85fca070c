// config.go - Worker-Konfiguration
// Dieses Modul enthaelt die Konfiguration eines Workers (Geraet, Modell,
// Cache) und deren Aufbau aus den Umgebungsvariablen.
package worker

import (
	"strings"

	"github.com/ollama/kvworker/envconfig"
	"github.com/ollama/kvworker/kvcache"
	"github.com/ollama/kvworker/ml"
	"github.com/ollama/kvworker/model"
)

// DeviceKind is the only accelerator kind this worker class runs on.
const DeviceKind = "tpu"

// autoDType resolves the cache precision to the model precision.
const autoDType = "auto"

type DeviceConfig struct {
	Kind string
	ID   string

	// MemoryLimit caps the device memory used by the worker, 0 for no cap
	MemoryLimit uint64
}

type CacheConfig struct {
	// BlockSize is the number of token positions per block
	BlockSize int

	// DType is a precision name or "auto"
	DType string

	Layout string
}

type Config struct {
	Device DeviceConfig
	Model  model.Config
	Cache  CacheConfig

	Seed uint64

	// CompileCacheDir is the root of the persistent artifact cache. Empty
	// disables it.
	CompileCacheDir string

	// Prober decides the capacity; nil uses the fixed bring-up count
	Prober kvcache.Prober
}

// DefaultNumDeviceBlocks is the capacity reported by the fixed probe until
// the memory probe is enabled.
const DefaultNumDeviceBlocks = 2000

// ConfigFromEnv builds a configuration for m from the environment.
func ConfigFromEnv(m model.Config) (Config, error) {
	prober, err := kvcache.NewProber(
		envconfig.CapacityProbe(),
		int(envconfig.NumDeviceBlocks()),
		envconfig.MemoryUtilization(),
		envconfig.GpuOverhead(),
	)
	if err != nil {
		return Config{}, wrapConfig(err)
	}

	return Config{
		Device: DeviceConfig{
			Kind: envconfig.Device(),
			ID:   envconfig.DeviceID(),
		},
		Model: m,
		Cache: CacheConfig{
			BlockSize: int(envconfig.KvBlockSize()),
			DType:     envconfig.KvCacheType(),
			Layout:    envconfig.KvLayout(),
		},
		Seed:            envconfig.Seed(),
		CompileCacheDir: envconfig.CompileCache(),
		Prober:          prober,
	}, nil
}

// resolve checks c and derives the cache spec and layout.
func (c Config) resolve() (kvcache.Spec, kvcache.Layout, error) {
	if c.Device.Kind != DeviceKind {
		return kvcache.Spec{}, nil, configError("device kind %q is not supported, only %q", c.Device.Kind, DeviceKind)
	}

	if err := c.Model.Validate(); err != nil {
		return kvcache.Spec{}, nil, wrapConfig(err)
	}

	if c.Cache.BlockSize <= 0 {
		return kvcache.Spec{}, nil, configError("block size must be positive, got %d", c.Cache.BlockSize)
	}

	dtype := c.Model.DType
	if name := strings.TrimSpace(c.Cache.DType); name != "" && !strings.EqualFold(name, autoDType) {
		var err error
		dtype, err = ml.ParseDType(name)
		if err != nil {
			return kvcache.Spec{}, nil, wrapConfig(err)
		}
	}

	layout, err := kvcache.LayoutFor(c.Cache.Layout)
	if err != nil {
		return kvcache.Spec{}, nil, wrapConfig(err)
	}

	spec := kvcache.Spec{
		NumLayers:  c.Model.NumLayers,
		NumKVHeads: c.Model.NumKVHeads,
		HeadSize:   c.Model.HeadSize,
		BlockSize:  c.Cache.BlockSize,
		DType:      dtype,
	}
	if err := spec.Validate(); err != nil {
		return kvcache.Spec{}, nil, wrapConfig(err)
	}

	return spec, layout, nil
}
