// coordinator.go - Ausfuehrung eines Schritts
// Dieses Modul enthaelt den Coordinator, der einen Batch prueft und an
// den Runner weitergibt. Block-Migrationen werden vor allem anderen
// abgelehnt, ein leerer Batch erreicht den Runner nie.
package worker

import (
	"context"
	"fmt"

	"github.com/ollama/kvworker/kvcache"
	"github.com/ollama/kvworker/logutil"
	"github.com/ollama/kvworker/model"
	"github.com/ollama/kvworker/model/input"
)

// Coordinator forwards step batches to a runner.
type Coordinator struct {
	runner model.Runner
}

func NewCoordinator(runner model.Runner) Coordinator {
	return Coordinator{runner: runner}
}

// Execute runs one step against cache. The migration maps are checked before
// the batch size, so a batch with migrations and no requests still fails.
// Request ids must be unique within a batch.
func (c Coordinator) Execute(ctx context.Context, batch input.Batch, cache *kvcache.Cache) (input.StepResult, error) {
	if err := checkMigrations(batch); err != nil {
		return nil, err
	}

	if err := checkRequestIDs(batch.Requests); err != nil {
		return nil, err
	}

	if len(batch.Requests) == 0 {
		logutil.Trace("empty batch")
		return input.StepResult{}, nil
	}

	result, err := c.runner.ExecuteStep(ctx, batch.Requests, cache)
	if err != nil {
		return nil, &DeviceError{Op: "execute step", Err: err}
	}

	return result, nil
}

func checkRequestIDs(requests []input.SequenceGroup) error {
	seen := make(map[string]struct{}, len(requests))
	for _, req := range requests {
		if _, ok := seen[req.ID]; ok {
			return fmt.Errorf("%w: duplicate request id %q", ErrInvalidBatch, req.ID)
		}
		seen[req.ID] = struct{}{}
	}
	return nil
}

func checkMigrations(batch input.Batch) error {
	if !batch.HasMigrations() {
		return nil
	}

	return &MigrationError{
		SwapIn:  len(batch.SwapIn),
		SwapOut: len(batch.SwapOut),
		Copy:    len(batch.Copy),
	}
}
