// runner.go - Schnittstelle zum Modell-Ausfuehrer
//
// Dieses Modul definiert den Runner, ueber den der Worker das Modell
// laedt, den Cache einmalig aufwaermt und Schritte ausfuehrt.
package model

import (
	"context"

	"github.com/ollama/kvworker/kvcache"
	"github.com/ollama/kvworker/ml"
	"github.com/ollama/kvworker/model/input"
)

// Runner executes a model on a bound device.
type Runner interface {
	// Load prepares the model weights on the device of dc
	Load(ctx context.Context, dc *ml.DeviceContext) error

	// Warmup exercises the freshly allocated cache once with representative
	// shapes. It takes ownership of cache and returns the cache that is
	// authoritative afterwards. Backends with buffer donation return a new
	// cache and invalidate the old one; a nil cache means cache is still
	// valid.
	Warmup(ctx context.Context, cache *kvcache.Cache) (*kvcache.Cache, error)

	// ExecuteStep runs one forward pass for requests and samples one token
	// per request.
	ExecuteStep(ctx context.Context, requests []input.SequenceGroup, cache *kvcache.Cache) (input.StepResult, error)
}
