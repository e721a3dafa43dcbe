// Package rest is the HTTP interface of the mixing service.
package rest

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/services"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/worker"
)

const (
	errCodePrecondition      = "PRECONDITION_FAILED"
	errCodeSessionNotFound   = "SESSION_NOT_FOUND"
	errCodeInvalidTransition = "INVALID_TRANSITION"
	errCodeProvider          = "PROVIDER_FAILED"
	errCodeBadRequest        = "BAD_REQUEST"
	errCodeUnavailable       = "UNAVAILABLE"
	errCodeInternal          = "INTERNAL"
)

// Handler manages the HTTP interface for the orchestrator.
type Handler struct {
	svc    *services.Orchestrator
	pool   *worker.Pool
	board  *services.StatusBoard
	router *http.ServeMux
}

// NewHandler initializes the HTTP adapter and sets up routes. pool and board may be nil.
func NewHandler(svc *services.Orchestrator, pool *worker.Pool, board *services.StatusBoard) *Handler {
	h := &Handler{
		svc:    svc,
		pool:   pool,
		board:  board,
		router: http.NewServeMux(),
	}
	h.routes()
	return h
}

// ServeHTTP satisfies the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	h.router.HandleFunc("GET /health", h.HealthCheck)

	// Tracks and caches
	h.router.HandleFunc("POST /tracks/analyze", h.AnalyzeTrack)
	h.router.HandleFunc("POST /tracks/stems", h.SeparateStems)
	h.router.HandleFunc("POST /tracks/prefetch", h.Prefetch)
	h.router.HandleFunc("DELETE /tracks/cache", h.InvalidateTrack)
	h.router.HandleFunc("DELETE /cache", h.ClearCaches)
	h.router.HandleFunc("GET /compatibility", h.Compatibility)
	h.router.HandleFunc("POST /resolve", h.Resolve)

	// Mix sessions
	h.router.HandleFunc("POST /mixes", h.StartMix)
	h.router.HandleFunc("GET /mixes/{id}", h.GetMix)
	h.router.HandleFunc("GET /mixes/{id}/events", h.MixEvents)
	h.router.HandleFunc("POST /mixes/{id}/cancel", h.CancelMix)
	h.router.HandleFunc("POST /mixes/{id}/stages/{stage}/retry", h.RetryStage)
}

type healthResponse struct {
	Status    string        `json:"status"`
	Providers []string      `json:"providers"`
	Prefetch  *worker.Stats `json:"prefetch,omitempty"`
}

// HealthCheck reports liveness and the configured provider chain.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Providers: h.svc.Resolver().Providers()}
	if h.pool != nil {
		stats := h.pool.Stats()
		resp.Prefetch = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// writeServiceError maps domain errors onto actionable statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrPrecondition):
		writeError(w, http.StatusBadRequest, errCodePrecondition, err.Error())
	case errors.Is(err, domain.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, errCodeSessionNotFound, err.Error())
	case errors.Is(err, domain.ErrPipelineFinished),
		errors.Is(err, domain.ErrPipelineBusy),
		errors.Is(err, domain.ErrStageNotFailed):
		writeError(w, http.StatusConflict, errCodeInvalidTransition, err.Error())
	case errors.Is(err, domain.ErrProvider):
		writeError(w, http.StatusBadGateway, errCodeProvider, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, errCodeInternal, err.Error())
	}
}

func isJSONContentType(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

// decodeJSON reads a JSON body, writing the error response itself on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if !isJSONContentType(r) {
		writeError(w, http.StatusUnsupportedMediaType, errCodeBadRequest, "Content-Type must be application/json")
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, errCodeBadRequest, "Invalid request body")
		return false
	}
	return true
}
