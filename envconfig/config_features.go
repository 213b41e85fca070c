// config_features.go - Geraete-, Cache- und Kapazitaets-Konfiguration
//
// Dieses Modul enthaelt:
// - Geraete-Auswahl (OLLAMA_DEVICE, OLLAMA_DEVICE_ID)
// - KV-Cache-Variablen (Praezision, Blockgroesse, Layout)
// - Kapazitaets-Probe (fixed/memory) und Speicher-Reserven
package envconfig

// =============================================================================
// Geraete-Auswahl
// =============================================================================

var (
	// Device waehlt die Beschleuniger-Art ("use this device kind")
	Device = StringWithDefault("OLLAMA_DEVICE", "tpu")

	// DeviceID waehlt das Geraet innerhalb der Art
	DeviceID = StringWithDefault("OLLAMA_DEVICE_ID", "0")

	// EmulatorMemory ist die Speichergroesse des emulierten Geraets in Bytes
	// 0 = aus dem System-RAM abgeleitet
	EmulatorMemory = Uint64("OLLAMA_EMULATOR_MEMORY", 8<<30)
)

// =============================================================================
// KV-Cache
// =============================================================================

var (
	// KvCacheType ist die Speicher-Praezision fuer den K/V Cache ("auto" = Modell-DType)
	KvCacheType = StringWithDefault("OLLAMA_KV_CACHE_TYPE", "auto")

	// KvBlockSize ist die Anzahl Token pro Cache-Block
	KvBlockSize = Uint("OLLAMA_KV_BLOCK_SIZE", 16)

	// KvLayout waehlt das physische Layout eines Cache-Layers
	KvLayout = StringWithDefault("OLLAMA_KV_LAYOUT", "head-major")

	// Seed initialisiert den deterministischen Zufallszustand fuer das Sampling
	Seed = Uint64("OLLAMA_SEED", 0)
)

// =============================================================================
// Kapazitaets-Probe
// =============================================================================

var (
	// CapacityProbe waehlt die Probe-Strategie: "fixed" oder "memory"
	CapacityProbe = StringWithDefault("OLLAMA_CAPACITY_PROBE", "fixed")

	// NumDeviceBlocks ist die feste Blockanzahl der "fixed"-Strategie
	NumDeviceBlocks = Uint("OLLAMA_NUM_DEVICE_BLOCKS", 2000)

	// MemoryUtilization ist der nutzbare Anteil des Geraete-Speichers
	MemoryUtilization = Float("OLLAMA_MEMORY_UTILIZATION", 0.9)

	// GpuOverhead reserviert Geraete-Speicher (in Bytes)
	GpuOverhead = Uint64("OLLAMA_GPU_OVERHEAD", 0)
)
