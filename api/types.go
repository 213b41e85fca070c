// types.go - Typen der Worker-API
// Enthaelt: StatusError, HealthResponse, InfoResponse, StepResponse
package api

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ollama/kvworker/kvcache"
	"github.com/ollama/kvworker/ml"
	"github.com/ollama/kvworker/model/input"
)

// StatusError is an error with an HTTP status code and message.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		return "something went wrong, please see the worker logs for details"
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// InfoResponse is the body of GET /info.
type InfoResponse struct {
	Device     ml.DeviceInfo    `json:"device"`
	DType      string           `json:"dtype"`
	Layers     int              `json:"layers"`
	KVHeads    int              `json:"kv_heads"`
	HeadSize   int              `json:"head_size"`
	BlockSize  int              `json:"block_size"`
	BlockBytes uint64           `json:"block_bytes"`
	Capacity   kvcache.Capacity `json:"capacity"`
	State      string           `json:"state"`
}

// StepRequest is the body of POST /step.
type StepRequest = input.Batch

// StepResponse is the body of POST /step. Outputs are ordered like the
// requests of the batch.
type StepResponse struct {
	ID      string                                       `json:"id"`
	Outputs *orderedmap.OrderedMap[string, input.Output] `json:"outputs"`
}
