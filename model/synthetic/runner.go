// Package synthetic - Deterministischer Referenz-Runner
//
// Dieses Paket enthaelt einen Runner ohne echte Gewichte fuer
// Inbetriebnahme, CLI und Tests:
// - Warmup kompiliert repraesentative Formen (Prefill und Decode) und
//   legt die Artefakte im persistenten Cache ab
// - optionale Buffer-Donation: Warmup gibt einen neuen Cache zurueck und
//   gibt den alten frei
// - ExecuteStep prueft Block-Tabellen und zieht deterministisch ein Token
package synthetic

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/ollama/kvworker/kvcache"
	"github.com/ollama/kvworker/logutil"
	"github.com/ollama/kvworker/ml"
	"github.com/ollama/kvworker/model"
	"github.com/ollama/kvworker/model/input"
)

var (
	ErrNotLoaded  = errors.New("model not loaded")
	ErrStaleCache = errors.New("cache was donated and is no longer valid")
)

var (
	defaultBatchSizes = []int{1, 2, 4, 8, 16, 32}
	defaultSeqLens    = []int{16, 32, 64, 128, 256, 512}
)

// Stats counts compilations since Load.
type Stats struct {
	Compiled int `json:"compiled"`
	Cached   int `json:"cached"`
}

type Runner struct {
	config model.Config

	// Donate mimics backends that donate the cache buffers to the warmup
	// computation and hand back fresh ones
	Donate bool

	// BatchSizes and SeqLens are the decode and prefill shapes compiled
	// during warmup
	BatchSizes []int
	SeqLens    []int

	dc       *ml.DeviceContext
	compiled map[string]bool
	stats    Stats
}

func New(config model.Config) *Runner {
	return &Runner{
		config:     config,
		BatchSizes: defaultBatchSizes,
		SeqLens:    defaultSeqLens,
	}
}

func (r *Runner) Load(ctx context.Context, dc *ml.DeviceContext) error {
	if dc == nil {
		return errors.New("device context is nil")
	}

	if err := r.config.Validate(); err != nil {
		return err
	}

	r.dc = dc
	r.compiled = make(map[string]bool)
	r.stats = Stats{}
	slog.Info("synthetic model loaded", "model", r.config, "device", dc.Device.Name)
	return nil
}

func (r *Runner) Stats() Stats {
	return r.stats
}

func (r *Runner) Warmup(ctx context.Context, cache *kvcache.Cache) (*kvcache.Cache, error) {
	if r.dc == nil {
		return nil, ErrNotLoaded
	}

	start := time.Now()
	blocks := cache.Capacity.DeviceBlocks
	for _, n := range r.SeqLens {
		if err := r.compile(ctx, "prefill", 1, n, blocks); err != nil {
			return nil, err
		}
	}

	for _, n := range r.BatchSizes {
		if err := r.compile(ctx, "decode", n, 1, blocks); err != nil {
			return nil, err
		}
	}

	slog.Info("warmup complete", "compiled", r.stats.Compiled, "cached", r.stats.Cached, "duration", time.Since(start))
	if len(cache.Layers) > 0 && slog.Default().Enabled(ctx, logutil.LevelTrace) {
		logutil.Trace("layer 0 keys", "values", ml.Dump(cache.Layers[0].Key, ml.DumpWithThreshold(64)))
	}

	if !r.Donate {
		return nil, nil
	}
	return r.donate(cache)
}

// donate moves every layer into new tensors and releases the old ones. The
// old cache keeps its layer slice but all of its tensors are empty.
func (r *Runner) donate(cache *kvcache.Cache) (*kvcache.Cache, error) {
	backend := r.dc.Backend
	donated := &kvcache.Cache{
		Layers:   make([]kvcache.LayerCache, len(cache.Layers)),
		Spec:     cache.Spec,
		Capacity: cache.Capacity,
		Layout:   cache.Layout,
	}

	move := func(t ml.Tensor) (ml.Tensor, error) {
		moved, err := backend.Zeros(t.DType(), t.Shape()...)
		if err != nil {
			return nil, err
		}
		copy(moved.Bytes(), t.Bytes())
		backend.Release(t)
		return moved, nil
	}

	for i, l := range cache.Layers {
		key, err := move(l.Key)
		if err != nil {
			donated.Release(backend)
			return nil, fmt.Errorf("donate layer %d key: %w", i, err)
		}
		donated.Layers[i].Key = key

		value, err := move(l.Value)
		if err != nil {
			donated.Release(backend)
			return nil, fmt.Errorf("donate layer %d value: %w", i, err)
		}
		donated.Layers[i].Value = value
	}

	logutil.Trace("cache donated", "layers", len(donated.Layers))
	return donated, nil
}

// compile looks a shape up in the artifact cache and produces the artifact on
// a miss.
func (r *Runner) compile(ctx context.Context, phase string, batch, seqLen, blocks int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := fmt.Sprintf("%s/%s/b%d/s%d/n%d/%s", r.config.Name, phase, batch, seqLen, blocks, r.dc.DType)
	if r.compiled[name] {
		return nil
	}

	if a := r.dc.Artifacts; a != nil {
		if _, ok, err := a.Get(name); err != nil {
			return fmt.Errorf("artifact %s: %w", name, err)
		} else if ok {
			r.compiled[name] = true
			r.stats.Cached++
			logutil.Trace("artifact cached", "name", name)
			return nil
		}
	}

	sum := sha256.Sum256([]byte(name))
	if a := r.dc.Artifacts; a != nil {
		if err := a.Put(name, sum[:]); err != nil {
			return fmt.Errorf("artifact %s: %w", name, err)
		}
	}

	r.compiled[name] = true
	r.stats.Compiled++
	slog.Debug("compiled", "phase", phase, "batch", batch, "seq_len", seqLen)
	return nil
}

func (r *Runner) ExecuteStep(ctx context.Context, requests []input.SequenceGroup, cache *kvcache.Cache) (input.StepResult, error) {
	if r.dc == nil {
		return nil, ErrNotLoaded
	}

	if err := checkCache(cache); err != nil {
		return nil, err
	}

	for _, req := range requests {
		if err := checkRequest(req, cache); err != nil {
			return nil, err
		}
	}

	// steps with shapes outside the warmup set compile on the fly
	prefill := slices.ContainsFunc(requests, func(s input.SequenceGroup) bool { return s.IsPrompt })
	if prefill {
		seqLen := 0
		for _, req := range requests {
			seqLen = max(seqLen, len(req.Tokens))
		}
		if err := r.compile(ctx, "prefill", len(requests), pad(seqLen, r.SeqLens), cache.Capacity.DeviceBlocks); err != nil {
			return nil, err
		}
	} else {
		if err := r.compile(ctx, "decode", pad(len(requests), r.BatchSizes), 1, cache.Capacity.DeviceBlocks); err != nil {
			return nil, err
		}
	}

	vocab := max(r.config.VocabSize, 1)
	logprob := float32(-math.Log(float64(vocab)))

	result := make(input.StepResult, len(requests))
	for _, req := range requests {
		rng := r.dc.Rand()
		if req.SamplingSeed != nil {
			rng = rand.New(rand.NewPCG(*req.SamplingSeed, hashTokens(req.Tokens)))
		}

		result[req.ID] = input.Output{
			Token:   int32(rng.IntN(vocab)),
			LogProb: logprob,
		}
	}

	return result, nil
}

func checkCache(cache *kvcache.Cache) error {
	if cache == nil {
		return errors.New("no cache")
	}

	for _, l := range cache.Layers {
		want := uint64(ml.Elements(l.Key.Shape()...) * l.Key.DType().Size())
		if l.Key.NBytes() != want || l.Value.NBytes() != want {
			return ErrStaleCache
		}
	}
	return nil
}

func checkRequest(req input.SequenceGroup, cache *kvcache.Cache) error {
	if len(req.Tokens) == 0 {
		return fmt.Errorf("request %s has no tokens", req.ID)
	}

	for _, b := range req.BlockTable {
		if b < 0 || b >= cache.Capacity.DeviceBlocks {
			return fmt.Errorf("request %s references block %d outside of %d device blocks", req.ID, b, cache.Capacity.DeviceBlocks)
		}
	}

	// prompts need a slot for every token, decode steps carry the last token
	// only
	if req.IsPrompt && len(req.Tokens) > len(req.BlockTable)*cache.Spec.BlockSize {
		return fmt.Errorf("request %s: %d tokens do not fit into %d blocks of %d", req.ID, len(req.Tokens), len(req.BlockTable), cache.Spec.BlockSize)
	}
	if !req.IsPrompt && len(req.BlockTable) == 0 {
		return fmt.Errorf("request %s has no blocks", req.ID)
	}
	return nil
}

// pad rounds n up to the next compiled size.
func pad(n int, sizes []int) int {
	for _, s := range sizes {
		if s >= n {
			return s
		}
	}
	return n
}

func hashTokens(tokens []int32) uint64 {
	h := sha256.New()
	for _, t := range tokens {
		_ = binary.Write(h, binary.LittleEndian, t)
	}
	return binary.LittleEndian.Uint64(h.Sum(nil))
}
