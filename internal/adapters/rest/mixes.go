package rest

import (
	"net/http"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/services"
)

// StartMix handles POST /mixes
func (h *Handler) StartMix(w http.ResponseWriter, r *http.Request) {
	var req services.MixRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	mix, err := h.svc.StartMix(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Location", "/mixes/"+mix.SessionID)
	writeJSON(w, http.StatusAccepted, mix)
}

// GetMix handles GET /mixes/{id}
func (h *Handler) GetMix(w http.ResponseWriter, r *http.Request) {
	mix, err := h.svc.Mix(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mix)
}

// MixEvents handles GET /mixes/{id}/events
func (h *Handler) MixEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.svc.Mix(id); err != nil {
		writeServiceError(w, err)
		return
	}
	if h.board == nil {
		writeError(w, http.StatusNotImplemented, errCodeUnavailable, "progress history not configured")
		return
	}
	writeJSON(w, http.StatusOK, h.board.Events(id))
}

// CancelMix handles POST /mixes/{id}/cancel
func (h *Handler) CancelMix(w http.ResponseWriter, r *http.Request) {
	mix, err := h.svc.CancelMix(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mix)
}

// RetryStage handles POST /mixes/{id}/stages/{stage}/retry
func (h *Handler) RetryStage(w http.ResponseWriter, r *http.Request) {
	stage, ok := domain.ParseStage(r.PathValue("stage"))
	if !ok {
		writeError(w, http.StatusBadRequest, errCodeBadRequest, "unknown stage "+r.PathValue("stage"))
		return
	}
	mix, err := h.svc.RetryStage(r.Context(), r.PathValue("id"), stage)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, mix)
}
