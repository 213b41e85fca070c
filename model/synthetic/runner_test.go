package synthetic

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ollama/kvworker/kvcache"
	"github.com/ollama/kvworker/ml"
	"github.com/ollama/kvworker/ml/backend/emulator"
	"github.com/ollama/kvworker/model"
	"github.com/ollama/kvworker/model/input"
)

type memoryArtifacts map[string][]byte

func (m memoryArtifacts) Get(name string) ([]byte, bool, error) {
	data, ok := m[name]
	return data, ok, nil
}

func (m memoryArtifacts) Put(name string, data []byte) error {
	m[name] = data
	return nil
}

var tiny = model.Config{Name: "tiny", NumLayers: 2, NumKVHeads: 2, HeadSize: 8, VocabSize: 100, DType: ml.DTypeF16}

func setup(t *testing.T, seed uint64, artifacts ml.ArtifactCache) (*ml.DeviceContext, *kvcache.Cache) {
	t.Helper()
	t.Setenv("OLLAMA_EMULATOR_MEMORY", "1048576")

	b, err := ml.NewBackend(emulator.Kind, ml.BackendParams{})
	require.NoError(t, err)
	t.Cleanup(b.Close)

	spec := kvcache.Spec{NumLayers: tiny.NumLayers, NumKVHeads: tiny.NumKVHeads, HeadSize: tiny.HeadSize, BlockSize: 4, DType: ml.DTypeF16}
	cache, err := kvcache.Allocate(b, kvcache.HeadMajor, spec, kvcache.Capacity{DeviceBlocks: 8})
	require.NoError(t, err)

	return ml.NewDeviceContext(b, tiny.DType, seed, artifacts), cache
}

func load(t *testing.T, r *Runner, dc *ml.DeviceContext) {
	t.Helper()
	require.NoError(t, r.Load(context.Background(), dc))
}

func TestWarmupUsesArtifactCache(t *testing.T) {
	artifacts := memoryArtifacts{}
	dc, cache := setup(t, 0, artifacts)

	first := New(tiny)
	load(t, first, dc)
	replaced, err := first.Warmup(context.Background(), cache)
	require.NoError(t, err)
	require.Nil(t, replaced)

	want := len(defaultSeqLens) + len(defaultBatchSizes)
	require.Equal(t, Stats{Compiled: want}, first.Stats())
	require.Len(t, artifacts, want)

	// a restart finds every artifact on disk
	second := New(tiny)
	load(t, second, dc)
	_, err = second.Warmup(context.Background(), cache)
	require.NoError(t, err)
	require.Equal(t, Stats{Cached: want}, second.Stats())
}

func TestWarmupWithoutArtifacts(t *testing.T) {
	dc, cache := setup(t, 0, nil)

	r := New(tiny)
	load(t, r, dc)
	_, err := r.Warmup(context.Background(), cache)
	require.NoError(t, err)
	require.Equal(t, len(defaultSeqLens)+len(defaultBatchSizes), r.Stats().Compiled)
}

func TestWarmupDonation(t *testing.T) {
	dc, cache := setup(t, 0, nil)
	used := dc.Backend.BackendMemory().Size()

	r := New(tiny)
	r.Donate = true
	load(t, r, dc)

	donated, err := r.Warmup(context.Background(), cache)
	require.NoError(t, err)
	require.NotNil(t, donated)
	require.NotSame(t, cache, donated)

	require.Equal(t, used, dc.Backend.BackendMemory().Size(), "donation must not grow device memory")
	require.Equal(t, cache.Shape(), donated.Shape())
	for i := range cache.Layers {
		require.Zero(t, cache.Layers[i].Key.NBytes(), "layer %d key still holds memory", i)
	}

	requests := []input.SequenceGroup{{ID: "a", IsPrompt: true, Tokens: []int32{1, 2, 3}, BlockTable: []int{0}}}

	_, err = r.ExecuteStep(context.Background(), requests, cache)
	require.ErrorIs(t, err, ErrStaleCache)

	_, err = r.ExecuteStep(context.Background(), requests, donated)
	require.NoError(t, err)
}

// limitedBackend fails every allocation after the first allow ones.
type limitedBackend struct {
	ml.Backend
	allow int
}

func (b *limitedBackend) Zeros(dtype ml.DType, shape ...int) (ml.Tensor, error) {
	if b.allow == 0 {
		return nil, errors.New("device allocation failed")
	}
	b.allow--
	return b.Backend.Zeros(dtype, shape...)
}

func TestWarmupDonationFailureReleasesMovedLayers(t *testing.T) {
	base, cache := setup(t, 0, nil)

	// layer 0 moves, layer 1 key fails
	backend := &limitedBackend{Backend: base.Backend, allow: 2}
	dc := ml.NewDeviceContext(backend, tiny.DType, 0, nil)

	r := New(tiny)
	r.Donate = true
	load(t, r, dc)

	donated, err := r.Warmup(context.Background(), cache)
	require.Error(t, err)
	require.Nil(t, donated)

	// only what is left of the original cache stays allocated
	require.Zero(t, cache.Layers[0].Key.NBytes())
	require.NotZero(t, cache.Layers[1].Key.NBytes())
	require.Equal(t, cache.NBytes(), base.Backend.BackendMemory().Size())
}

func TestExecuteStepDeterministic(t *testing.T) {
	requests := []input.SequenceGroup{
		{ID: "a", IsPrompt: true, Tokens: []int32{1, 2, 3, 4, 5}, BlockTable: []int{0, 1}},
		{ID: "b", IsPrompt: true, Tokens: []int32{9}, BlockTable: []int{2}},
	}

	run := func(seed uint64) input.StepResult {
		dc, cache := setup(t, seed, nil)
		r := New(tiny)
		load(t, r, dc)
		result, err := r.ExecuteStep(context.Background(), requests, cache)
		require.NoError(t, err)
		return result
	}

	first := run(42)
	require.Len(t, first, 2)
	if diff := cmp.Diff(first, run(42)); diff != "" {
		t.Errorf("same seed, different outputs (-first +second):\n%s", diff)
	}

	for id, out := range first {
		if out.Token < 0 || out.Token >= 100 {
			t.Errorf("%s: token %d outside vocabulary", id, out.Token)
		}
	}
}

func TestExecuteStepSamplingSeed(t *testing.T) {
	seed := uint64(7)
	pinned := input.SequenceGroup{ID: "pinned", Tokens: []int32{4}, BlockTable: []int{3}, SamplingSeed: &seed}
	other := input.SequenceGroup{ID: "other", Tokens: []int32{5}, BlockTable: []int{4}}

	dc, cache := setup(t, 1, nil)
	r := New(tiny)
	load(t, r, dc)

	alone, err := r.ExecuteStep(context.Background(), []input.SequenceGroup{pinned}, cache)
	require.NoError(t, err)

	batched, err := r.ExecuteStep(context.Background(), []input.SequenceGroup{other, other, pinned}, cache)
	require.NoError(t, err)

	require.Equal(t, alone["pinned"], batched["pinned"])
}

func TestExecuteStepInvalidRequests(t *testing.T) {
	dc, cache := setup(t, 0, nil)
	r := New(tiny)
	load(t, r, dc)

	cases := map[string]input.SequenceGroup{
		"no tokens":      {ID: "a", BlockTable: []int{0}},
		"negative block": {ID: "a", Tokens: []int32{1}, BlockTable: []int{-1}},
		"block too high": {ID: "a", Tokens: []int32{1}, BlockTable: []int{8}},
		"prompt overflow": {
			ID: "a", IsPrompt: true, Tokens: []int32{1, 2, 3, 4, 5}, BlockTable: []int{0},
		},
		"decode without blocks": {ID: "a", Tokens: []int32{1}},
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.ExecuteStep(context.Background(), []input.SequenceGroup{req}, cache)
			require.Error(t, err)
		})
	}
}

func TestNotLoaded(t *testing.T) {
	_, cache := setup(t, 0, nil)
	r := New(tiny)

	_, err := r.Warmup(context.Background(), cache)
	require.True(t, errors.Is(err, ErrNotLoaded))

	_, err = r.ExecuteStep(context.Background(), nil, cache)
	require.True(t, errors.Is(err, ErrNotLoaded))
}

func TestPad(t *testing.T) {
	sizes := []int{1, 2, 4, 8}
	for n, want := range map[int]int{1: 1, 3: 4, 8: 8, 9: 9} {
		if got := pad(n, sizes); got != want {
			t.Errorf("pad(%d) = %d, want %d", n, got, want)
		}
	}
}
