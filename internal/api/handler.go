package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/arbiter/internal/orchestrator"
	"github.com/nidhogg/arbiter/internal/provider"
	"github.com/nidhogg/arbiter/internal/worker"
	"go.uber.org/zap"
)

// Handler exposes the orchestrator over REST. Task execution is
// synchronous: POST /api/tasks blocks until the run terminates. Results
// and their progress events stay queryable in memory afterwards.
type Handler struct {
	orch     *orchestrator.Orchestrator
	registry *worker.Registry
	logger   *zap.Logger

	mu      sync.RWMutex
	results map[string]*orchestrator.TaskResult
	events  map[string][]ProgressEvent
}

// ProgressEvent is one recorded sink emission.
type ProgressEvent struct {
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewHandler creates the REST handler.
func NewHandler(orch *orchestrator.Orchestrator, registry *worker.Registry, logger *zap.Logger) *Handler {
	return &Handler{
		orch:     orch,
		registry: registry,
		logger:   logger,
		results:  make(map[string]*orchestrator.TaskResult),
		events:   make(map[string][]ProgressEvent),
	}
}

// Router builds the chi route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/workers", h.listWorkers)
		r.Post("/tasks", h.runTask)
		r.Get("/tasks/{runID}", h.getTask)
		r.Get("/tasks/{runID}/events", h.getEvents)
	})
	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "arbiter"})
}

func (h *Handler) listWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Capabilities())
}

type taskRequest struct {
	Description string                 `json:"description"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Model       *provider.ModelConfig  `json:"model,omitempty"`
}

// recordingSink stores progress events for later retrieval.
type recordingSink struct {
	mu  sync.Mutex
	buf []ProgressEvent
}

func (s *recordingSink) Emit(eventType string, payload map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, ProgressEvent{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

func (h *Handler) runTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Description == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}

	sink := &recordingSink{}
	result := h.orch.HandleTask(r.Context(), &orchestrator.TaskRequest{
		Description: req.Description,
		Context:     req.Context,
		Model:       req.Model,
		Sink:        sink,
	})

	h.mu.Lock()
	h.results[result.RunID] = result
	sink.mu.Lock()
	h.events[result.RunID] = sink.buf
	sink.mu.Unlock()
	h.mu.Unlock()

	h.logger.Info("task run finished",
		zap.String("run", result.RunID),
		zap.Int("results", len(result.Results)),
		zap.String("aborted", result.Aborted))
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	h.mu.RLock()
	result, ok := h.results[runID]
	h.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) getEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	h.mu.RLock()
	events, ok := h.events[runID]
	h.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
