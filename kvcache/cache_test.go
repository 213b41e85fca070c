package kvcache

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ollama/kvworker/ml"
	"github.com/ollama/kvworker/ml/backend/emulator"
)

func newBackend(t *testing.T, limit uint64) ml.Backend {
	t.Helper()
	t.Setenv("OLLAMA_EMULATOR_MEMORY", "1073741824")

	b, err := ml.NewBackend(emulator.Kind, ml.BackendParams{MemoryLimit: limit})
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func TestBlockBytes(t *testing.T) {
	cases := []struct {
		name string
		spec Spec
		want uint64
	}{
		{
			name: "llama 8b f16",
			spec: Spec{NumLayers: 32, NumKVHeads: 8, HeadSize: 128, BlockSize: 16, DType: ml.DTypeF16},
			want: 2_097_152,
		},
		{
			name: "f32",
			spec: Spec{NumLayers: 2, NumKVHeads: 4, HeadSize: 8, BlockSize: 4, DType: ml.DTypeF32},
			want: 2 * 2 * 4 * 4 * 8 * 4,
		},
		{
			name: "fp8",
			spec: Spec{NumLayers: 80, NumKVHeads: 8, HeadSize: 128, BlockSize: 32, DType: ml.DTypeFP8E5M2},
			want: 80 * 2 * 32 * 8 * 128,
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.spec.BlockBytes(HeadMajor); got != tt.want {
				t.Errorf("BlockBytes() = %d, want %d", got, tt.want)
			}
		})
	}
}

// Every property of the footprint formula, checked over a small grid.
func TestBlockBytesFormula(t *testing.T) {
	for _, layers := range []int{1, 3, 32} {
		for _, blockSize := range []int{1, 8, 16} {
			for _, heads := range []int{1, 2, 8} {
				for _, dtype := range []ml.DType{ml.DTypeF32, ml.DTypeF16, ml.DTypeBF16, ml.DTypeFP8E5M2} {
					s := Spec{NumLayers: layers, NumKVHeads: heads, HeadSize: 64, BlockSize: blockSize, DType: dtype}
					want := uint64(layers * 2 * blockSize * heads * 64 * dtype.Size())
					if got := s.BlockBytes(HeadMajor); got != want {
						t.Fatalf("%+v: BlockBytes() = %d, want %d", s, got, want)
					}
				}
			}
		}
	}
}

func TestSpecValidate(t *testing.T) {
	valid := Spec{NumLayers: 1, NumKVHeads: 1, HeadSize: 1, BlockSize: 1, DType: ml.DTypeF16}
	require.NoError(t, valid.Validate())

	invalid := []Spec{
		{NumKVHeads: 1, HeadSize: 1, BlockSize: 1, DType: ml.DTypeF16},
		{NumLayers: 1, HeadSize: 1, BlockSize: 1, DType: ml.DTypeF16},
		{NumLayers: 1, NumKVHeads: 1, BlockSize: 1, DType: ml.DTypeF16},
		{NumLayers: 1, NumKVHeads: 1, HeadSize: 1, DType: ml.DTypeF16},
		{NumLayers: 1, NumKVHeads: 1, HeadSize: 1, BlockSize: 1},
	}
	for _, s := range invalid {
		require.Error(t, s.Validate(), "%+v", s)
	}
}

func TestLayouts(t *testing.T) {
	cases := []struct {
		name string
		want []int
	}{
		{"", []int{8, 100, 16, 128}},
		{"head-major", []int{8, 100, 16, 128}},
		{"block-major", []int{100, 16, 8, 128}},
	}

	for _, tt := range cases {
		layout, err := LayoutFor(tt.name)
		require.NoError(t, err)
		if diff := cmp.Diff(tt.want, layout.Shape(100, 16, 8, 128)); diff != "" {
			t.Errorf("%q shape mismatch (-want +got):\n%s", tt.name, diff)
		}
		if layout.ElementSize(ml.DTypeBF16) != 2 {
			t.Errorf("%q element size = %d, want 2", tt.name, layout.ElementSize(ml.DTypeBF16))
		}
	}

	_, err := LayoutFor("ragged")
	require.Error(t, err)
}

func TestFixedProber(t *testing.T) {
	p := FixedProber{Blocks: 2000}
	for range 3 {
		c, err := p.Probe(context.Background(), ProbeInput{})
		require.NoError(t, err)
		require.Equal(t, Capacity{DeviceBlocks: 2000, HostBlocks: 0}, c)
	}

	_, err := FixedProber{Blocks: -1}.Probe(context.Background(), ProbeInput{})
	require.Error(t, err)
}

func TestMemoryProber(t *testing.T) {
	spec := Spec{NumLayers: 2, NumKVHeads: 2, HeadSize: 8, BlockSize: 4, DType: ml.DTypeF16} // 512 bytes per block

	cases := []struct {
		name   string
		prober MemoryProber
		device ml.DeviceInfo
		want   int
	}{
		{
			name:   "utilization bound",
			prober: MemoryProber{Utilization: 0.5},
			device: ml.DeviceInfo{TotalMemory: 10240, FreeMemory: 10240},
			want:   10,
		},
		{
			name:   "free memory bound",
			prober: MemoryProber{Utilization: 1},
			device: ml.DeviceInfo{TotalMemory: 10240, FreeMemory: 2048},
			want:   4,
		},
		{
			name:   "overhead",
			prober: MemoryProber{Utilization: 1, Overhead: 1024},
			device: ml.DeviceInfo{TotalMemory: 4096, FreeMemory: 4096},
			want:   6,
		},
		{
			name:   "overhead exceeds budget",
			prober: MemoryProber{Utilization: 1, Overhead: 8192},
			device: ml.DeviceInfo{TotalMemory: 4096, FreeMemory: 4096},
			want:   0,
		},
		{
			name:   "partial block",
			prober: MemoryProber{Utilization: 1},
			device: ml.DeviceInfo{TotalMemory: 1023, FreeMemory: 1023},
			want:   1,
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			c, err := tt.prober.Probe(context.Background(), ProbeInput{Device: tt.device, Spec: spec, Layout: HeadMajor})
			require.NoError(t, err)
			require.Equal(t, tt.want, c.DeviceBlocks)
			require.Zero(t, c.HostBlocks)
		})
	}

	_, err := MemoryProber{Utilization: 0}.Probe(context.Background(), ProbeInput{Spec: spec})
	require.Error(t, err)
	_, err = MemoryProber{Utilization: 1.5}.Probe(context.Background(), ProbeInput{Spec: spec})
	require.Error(t, err)
}

func TestNewProber(t *testing.T) {
	p, err := NewProber("fixed", 7, 0.9, 0)
	require.NoError(t, err)
	require.Equal(t, FixedProber{Blocks: 7}, p)

	p, err = NewProber("memory", 7, 0.9, 64)
	require.NoError(t, err)
	require.Equal(t, MemoryProber{Utilization: 0.9, Overhead: 64}, p)

	_, err = NewProber("guess", 7, 0.9, 0)
	require.Error(t, err)
}

func TestAllocate(t *testing.T) {
	b := newBackend(t, 0)
	spec := Spec{NumLayers: 4, NumKVHeads: 2, HeadSize: 8, BlockSize: 4, DType: ml.DTypeBF16}

	cache, err := Allocate(b, HeadMajor, spec, Capacity{DeviceBlocks: 10})
	require.NoError(t, err)

	require.Equal(t, 4, cache.NumLayers())
	want := []int{2, 10, 4, 8}
	for i, l := range cache.Layers {
		if diff := cmp.Diff(want, l.Key.Shape()); diff != "" {
			t.Errorf("layer %d key shape mismatch (-want +got):\n%s", i, diff)
		}
		if diff := cmp.Diff(l.Key.Shape(), l.Value.Shape()); diff != "" {
			t.Errorf("layer %d key/value shape mismatch (-key +value):\n%s", i, diff)
		}
		if l.Key == l.Value {
			t.Errorf("layer %d key and value share storage", i)
		}
		for _, tensor := range []ml.Tensor{l.Key, l.Value} {
			for j, f := range tensor.Floats() {
				if f != 0 {
					t.Fatalf("layer %d element %d = %v, want 0", i, j, f)
				}
			}
		}
	}

	// the footprint of the whole cache is capacity * BlockBytes
	require.Equal(t, uint64(10)*spec.BlockBytes(HeadMajor), cache.NBytes())
	require.Equal(t, cache.NBytes(), b.BackendMemory().Size())

	cache.Release(b)
	require.Zero(t, b.BackendMemory().Size())
}

func TestAllocateZeroBlocks(t *testing.T) {
	b := newBackend(t, 0)
	spec := Spec{NumLayers: 2, NumKVHeads: 2, HeadSize: 8, BlockSize: 4, DType: ml.DTypeF16}

	cache, err := Allocate(b, BlockMajor, spec, Capacity{})
	require.NoError(t, err)
	require.Equal(t, 2, cache.NumLayers())
	require.Zero(t, cache.NBytes())
}

func TestAllocateNoMemReleasesEverything(t *testing.T) {
	spec := Spec{NumLayers: 4, NumKVHeads: 2, HeadSize: 8, BlockSize: 4, DType: ml.DTypeF16}

	// 1024 bytes per block, 2560 bytes per layer: room for two and a half layers
	b := newBackend(t, 6400)

	cache, err := Allocate(b, HeadMajor, spec, Capacity{DeviceBlocks: 10})
	require.Nil(t, cache)

	var noMem ml.ErrNoMem
	require.True(t, errors.As(err, &noMem), "want ErrNoMem, got %v", err)
	require.Zero(t, b.BackendMemory().Size(), "partial allocation leaked")
}

func TestAllocateInvalid(t *testing.T) {
	b := newBackend(t, 0)
	spec := Spec{NumLayers: 1, NumKVHeads: 1, HeadSize: 1, BlockSize: 1, DType: ml.DTypeF16}

	_, err := Allocate(b, HeadMajor, spec, Capacity{DeviceBlocks: -1})
	require.Error(t, err)

	_, err = Allocate(b, HeadMajor, Spec{}, Capacity{DeviceBlocks: 1})
	require.Error(t, err)
}

// paddedLayout stores every element in four bytes.
type paddedLayout struct{ Layout }

func (paddedLayout) Name() string             { return "padded" }
func (paddedLayout) ElementSize(ml.DType) int { return 4 }

func TestFootprintFollowsLayoutElementSize(t *testing.T) {
	spec := Spec{NumLayers: 2, NumKVHeads: 2, HeadSize: 8, BlockSize: 4, DType: ml.DTypeF16}
	padded := paddedLayout{HeadMajor}

	require.Equal(t, uint64(512), spec.BlockBytes(HeadMajor))
	require.Equal(t, uint64(1024), spec.BlockBytes(padded))

	device := ml.DeviceInfo{TotalMemory: 10240, FreeMemory: 10240}
	c, err := MemoryProber{Utilization: 1}.Probe(context.Background(), ProbeInput{Device: device, Spec: spec, Layout: padded})
	require.NoError(t, err)
	require.Equal(t, 10, c.DeviceBlocks)

	_, err = MemoryProber{Utilization: 1}.Probe(context.Background(), ProbeInput{Device: device, Spec: spec})
	require.Error(t, err)
}

func TestAllocateRejectsMismatchedElementSize(t *testing.T) {
	b := newBackend(t, 0)
	spec := Spec{NumLayers: 2, NumKVHeads: 2, HeadSize: 8, BlockSize: 4, DType: ml.DTypeF16}

	cache, err := Allocate(b, paddedLayout{HeadMajor}, spec, Capacity{DeviceBlocks: 4})
	require.Error(t, err)
	require.Nil(t, cache)
	require.Zero(t, b.BackendMemory().Size())

	// float32 is four bytes on the device as well
	spec.DType = ml.DTypeF32
	cache, err = Allocate(b, paddedLayout{HeadMajor}, spec, Capacity{DeviceBlocks: 4})
	require.NoError(t, err)
	require.Equal(t, uint64(4)*spec.BlockBytes(paddedLayout{HeadMajor}), cache.NBytes())
}
