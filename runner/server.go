// Package runner - HTTP-Transport eines Workers
//
// Dieses Paket stellt einen bereiten Worker ueber HTTP bereit, damit eine
// externe Engine-Schleife Schritte ausfuehren kann:
// - GET /health: Zustand des Workers
// - GET /info: Geraet, Cache-Form und Kapazitaet
// - POST /step: ein Ausfuehrungsschritt
// Schritte werden ueber eine Semaphore serialisiert.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/sync/semaphore"

	"github.com/ollama/kvworker/api"
	"github.com/ollama/kvworker/envconfig"
	"github.com/ollama/kvworker/kvcache"
	"github.com/ollama/kvworker/ml"
	"github.com/ollama/kvworker/model/input"
	"github.com/ollama/kvworker/worker"
)

// Worker is the part of a worker the transport needs.
type Worker interface {
	State() worker.State
	Spec() kvcache.Spec
	BlockBytes() uint64
	Capacity() (kvcache.Capacity, bool)
	DeviceContext() *ml.DeviceContext
	ExecuteStep(ctx context.Context, batch input.Batch) (input.StepResult, error)
}

type Server struct {
	addr   net.Addr
	worker Worker

	// steps is acquired for every step; the worker does not allow
	// concurrent steps
	steps *semaphore.Weighted
}

func NewServer(w Worker, addr net.Addr) *Server {
	return &Server{addr: addr, worker: w, steps: semaphore.NewWeighted(1)}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
	}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(
		gin.Recovery(),
		cors.New(corsConfig),
		allowedHostsMiddleware(s.addr),
	)

	r.GET("/health", s.HealthHandler)
	r.GET("/info", s.InfoHandler)
	r.POST("/step", s.StepHandler)
	return r
}

func (s *Server) HealthHandler(c *gin.Context) {
	state := s.worker.State()
	status := http.StatusOK
	if !state.CanExecute() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, api.HealthResponse{Status: state.String()})
}

func (s *Server) InfoHandler(c *gin.Context) {
	spec := s.worker.Spec()
	info := api.InfoResponse{
		DType:      spec.DType.String(),
		Layers:     spec.NumLayers,
		KVHeads:    spec.NumKVHeads,
		HeadSize:   spec.HeadSize,
		BlockSize:  spec.BlockSize,
		BlockBytes: s.worker.BlockBytes(),
		State:      s.worker.State().String(),
	}

	if dc := s.worker.DeviceContext(); dc != nil {
		info.Device = dc.Backend.Device()
	}

	if capacity, ok := s.worker.Capacity(); ok {
		info.Capacity = capacity
	}

	c.JSON(http.StatusOK, info)
}

func (s *Server) StepHandler(c *gin.Context) {
	var batch input.Batch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.steps.Acquire(c.Request.Context(), 1); err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("aborting step due to client closing the connection")
		} else {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	defer s.steps.Release(1)

	id := uuid.NewString()
	result, err := s.worker.ExecuteStep(c.Request.Context(), batch)
	if err != nil {
		slog.Debug("step failed", "id", id, "error", err)
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	outputs := orderedmap.New[string, input.Output]()
	for _, req := range batch.Requests {
		if out, ok := result[req.ID]; ok {
			outputs.Set(req.ID, out)
		}
	}

	c.JSON(http.StatusOK, api.StepResponse{ID: id, Outputs: outputs})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, worker.ErrUnsupportedMigration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, worker.ErrLifecycle):
		return http.StatusConflict
	case errors.Is(err, worker.ErrConfiguration), errors.Is(err, worker.ErrInvalidBatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
