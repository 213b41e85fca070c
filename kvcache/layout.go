// Package kvcache - Physisches Layout eines Cache-Layers
//
// Dieses Modul enthaelt die Layout-Schnittstelle, ueber die das
// Attention-Backend die Tensor-Form eines Layers festlegt:
// - HeadMajor: [kv heads, blocks, block size, head size]
// - BlockMajor: [blocks, block size, kv heads, head size]
// - LayoutFor: Auswahl ueber den Namen
package kvcache

import (
	"fmt"

	"github.com/ollama/kvworker/ml"
)

// Layout maps cache dimensions to the physical tensor shape of one layer's
// key (or value) store. Implementations are stateless.
type Layout interface {
	Name() string
	Shape(numBlocks, blockSize, numKVHeads, headSize int) []int

	// ElementSize is the number of bytes one element of dtype occupies
	ElementSize(dtype ml.DType) int
}

type headMajor struct{}

func (headMajor) Name() string { return "head-major" }

func (headMajor) Shape(numBlocks, blockSize, numKVHeads, headSize int) []int {
	return []int{numKVHeads, numBlocks, blockSize, headSize}
}

func (headMajor) ElementSize(dtype ml.DType) int { return dtype.Size() }

type blockMajor struct{}

func (blockMajor) Name() string { return "block-major" }

func (blockMajor) Shape(numBlocks, blockSize, numKVHeads, headSize int) []int {
	return []int{numBlocks, blockSize, numKVHeads, headSize}
}

func (blockMajor) ElementSize(dtype ml.DType) int { return dtype.Size() }

var (
	// HeadMajor keeps each kv head contiguous across blocks. This is the
	// layout of the paged attention kernel on tpu.
	HeadMajor Layout = headMajor{}

	// BlockMajor keeps each block contiguous across heads
	BlockMajor Layout = blockMajor{}
)

// LayoutFor selects a layout by name.
func LayoutFor(name string) (Layout, error) {
	switch name {
	case "", HeadMajor.Name():
		return HeadMajor, nil
	case BlockMajor.Name():
		return BlockMajor, nil
	default:
		return nil, fmt.Errorf("unknown kv cache layout %q", name)
	}
}
