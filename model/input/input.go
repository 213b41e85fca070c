// Package input - Eingabe-Typen eines Ausfuehrungsschritts
//
// Dieses Paket enthaelt die Typen, die der Scheduler pro Schritt an den
// Worker uebergibt, und das Ergebnis eines Schritts:
// - SequenceGroup: eine Anfrage mit Tokens und Block-Tabelle
// - Batch: die Anfragen eines Schritts plus Migrations-Anweisungen
// - StepResult: Ausgabe pro Anfrage
package input

// SequenceGroup is one request scheduled for a step.
type SequenceGroup struct {
	ID string `json:"id"`

	// IsPrompt is set for the prefill of a request, unset for decode steps
	IsPrompt bool `json:"is_prompt"`

	Tokens []int32 `json:"tokens"`

	// BlockTable maps the logical blocks of the request to physical cache
	// blocks, in order
	BlockTable []int `json:"block_table"`

	// SamplingSeed makes sampling for this request reproducible independent of the
	// rest of the batch
	SamplingSeed *uint64 `json:"sampling_seed,omitempty"`
}

// NumBlocks is the number of cache blocks the request occupies.
func (s SequenceGroup) NumBlocks() int {
	return len(s.BlockTable)
}

// Batch is the input of one step. SwapIn and SwapOut move blocks between the
// device and host tiers, Copy duplicates a source block into each of its
// destination blocks.
type Batch struct {
	Requests []SequenceGroup `json:"requests"`

	SwapIn  map[int]int   `json:"swap_in,omitempty"`
	SwapOut map[int]int   `json:"swap_out,omitempty"`
	Copy    map[int][]int `json:"copy,omitempty"`
}

// HasMigrations reports whether any of the block migration maps is
// non-empty.
func (b Batch) HasMigrations() bool {
	return len(b.SwapIn) > 0 || len(b.SwapOut) > 0 || len(b.Copy) > 0
}

// Output is the sampled continuation of one request.
type Output struct {
	Token   int32   `json:"token"`
	LogProb float32 `json:"logprob"`
}

// StepResult maps request ids to their outputs.
type StepResult map[string]Output
