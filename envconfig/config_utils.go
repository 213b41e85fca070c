// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - String/StringWithDefault: String-Getter
// - Uint/Uint64/Float: Zahlen-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// =============================================================================
// Boolean-Getter
// =============================================================================

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// =============================================================================
// String-Getter
// =============================================================================

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// StringWithDefault gibt eine Funktion zurueck, die einen String mit Default-Wert liest
func StringWithDefault(key, defaultValue string) func() string {
	return func() string {
		if s := Var(key); s != "" {
			return s
		}
		return defaultValue
	}
}

// =============================================================================
// Zahlen-Getter
// =============================================================================

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Uint64 gibt eine Funktion zurueck, die einen uint64 mit Default-Wert liest
func Uint64(key string, defaultValue uint64) func() uint64 {
	return func() uint64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

// Float gibt eine Funktion zurueck, die einen float64 mit Default-Wert liest
func Float(key string, defaultValue float64) func() float64 {
	return func() float64 {
		if s := Var(key); s != "" {
			if f, err := strconv.ParseFloat(s, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return f
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"OLLAMA_DEBUG":              {"OLLAMA_DEBUG", LogLevel(), "Show additional debug information (e.g. OLLAMA_DEBUG=1)"},
		"OLLAMA_HOST":               {"OLLAMA_HOST", Host(), "Listen address of the worker transport (default 127.0.0.1:11435)"},
		"OLLAMA_ORIGINS":            {"OLLAMA_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
		"OLLAMA_DEVICE":             {"OLLAMA_DEVICE", Device(), "Accelerator kind the worker binds to (default: tpu)"},
		"OLLAMA_DEVICE_ID":          {"OLLAMA_DEVICE_ID", DeviceID(), "Device id within the accelerator kind (default: 0)"},
		"OLLAMA_EMULATOR_MEMORY":    {"OLLAMA_EMULATOR_MEMORY", EmulatorMemory(), "Memory of the emulated device in bytes (0: derive from system RAM)"},
		"OLLAMA_COMPILE_CACHE":      {"OLLAMA_COMPILE_CACHE", CompileCache(), "Path of the persistent compiled-artifact cache"},
		"OLLAMA_KV_CACHE_TYPE":      {"OLLAMA_KV_CACHE_TYPE", KvCacheType(), "Storage precision for the K/V cache (default: auto)"},
		"OLLAMA_KV_BLOCK_SIZE":      {"OLLAMA_KV_BLOCK_SIZE", KvBlockSize(), "Tokens per K/V cache block (default: 16)"},
		"OLLAMA_KV_LAYOUT":          {"OLLAMA_KV_LAYOUT", KvLayout(), "Physical layout of a cache layer (head-major, block-major)"},
		"OLLAMA_SEED":               {"OLLAMA_SEED", Seed(), "Seed for the sampling random state"},
		"OLLAMA_CAPACITY_PROBE":     {"OLLAMA_CAPACITY_PROBE", CapacityProbe(), "Capacity probe strategy (fixed, memory)"},
		"OLLAMA_NUM_DEVICE_BLOCKS":  {"OLLAMA_NUM_DEVICE_BLOCKS", NumDeviceBlocks(), "Device blocks used by the fixed capacity probe (default: 2000)"},
		"OLLAMA_MEMORY_UTILIZATION": {"OLLAMA_MEMORY_UTILIZATION", MemoryUtilization(), "Fraction of device memory the memory probe may use (default: 0.9)"},
		"OLLAMA_GPU_OVERHEAD":       {"OLLAMA_GPU_OVERHEAD", GpuOverhead(), "Reserve a portion of device memory (bytes)"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
