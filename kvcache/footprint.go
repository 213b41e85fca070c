// Package kvcache - Block-Buchhaltung
//
// Dieses Modul enthaelt die Cache-Spezifikation und die Berechnung
// des Byte-Bedarfs eines Blocks. Der Wert muss exakt dem entsprechen,
// was der Scheduler fuer sein globales Block-Budget annimmt.
package kvcache

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ollama/kvworker/ml"
)

// Spec describes the cache a model needs: its architecture numbers plus the
// block size and storage precision.
type Spec struct {
	NumLayers  int
	NumKVHeads int
	HeadSize   int

	// BlockSize is the number of token positions per block
	BlockSize int

	DType ml.DType
}

func (s Spec) Validate() error {
	var errs []error
	if s.NumLayers <= 0 {
		errs = append(errs, fmt.Errorf("num layers must be positive, got %d", s.NumLayers))
	}
	if s.NumKVHeads <= 0 {
		errs = append(errs, fmt.Errorf("num kv heads must be positive, got %d", s.NumKVHeads))
	}
	if s.HeadSize <= 0 {
		errs = append(errs, fmt.Errorf("head size must be positive, got %d", s.HeadSize))
	}
	if s.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("block size must be positive, got %d", s.BlockSize))
	}
	if s.DType.Size() == 0 {
		errs = append(errs, fmt.Errorf("unsupported storage dtype %v", s.DType))
	}
	return errors.Join(errs...)
}

// BlockBytes is the number of bytes one block occupies across all layers,
// keys and values included, with the element size reported by layout:
//
//	layers * 2 * blockSize * kvHeads * headSize * layout.ElementSize(dtype)
func (s Spec) BlockBytes(layout Layout) uint64 {
	keyBlock := uint64(s.BlockSize) * uint64(s.NumKVHeads) * uint64(s.HeadSize)
	valueBlock := keyBlock
	total := uint64(s.NumLayers) * (keyBlock + valueBlock)
	return uint64(layout.ElementSize(s.DType)) * total
}

func (s Spec) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("layers", s.NumLayers),
		slog.Int("kv_heads", s.NumKVHeads),
		slog.Int("head_size", s.HeadSize),
		slog.Int("block_size", s.BlockSize),
		slog.Any("dtype", s.DType),
	)
}
