package rest

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/worker"
)

type analyzeTrackRequest struct {
	TrackRef string            `json:"trackRef"`
	Options  map[string]string `json:"options,omitempty"`
}

// AnalyzeTrack handles POST /tracks/analyze
func (h *Handler) AnalyzeTrack(w http.ResponseWriter, r *http.Request) {
	var req analyzeTrackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.TrackRef) == "" {
		writeError(w, http.StatusBadRequest, errCodeBadRequest, "trackRef is required")
		return
	}

	features, err := h.svc.AnalyzeTrack(r.Context(), req.TrackRef, req.Options)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, features)
}

type separateStemsRequest struct {
	TrackRef string `json:"trackRef"`
	Quality  string `json:"quality,omitempty"`
}

// SeparateStems handles POST /tracks/stems
func (h *Handler) SeparateStems(w http.ResponseWriter, r *http.Request) {
	var req separateStemsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.TrackRef) == "" {
		writeError(w, http.StatusBadRequest, errCodeBadRequest, "trackRef is required")
		return
	}

	stems, err := h.svc.SeparateStems(r.Context(), req.TrackRef, domain.ParseStemQuality(req.Quality))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stems)
}

// Prefetch handles POST /tracks/prefetch
func (h *Handler) Prefetch(w http.ResponseWriter, r *http.Request) {
	if h.pool == nil {
		writeError(w, http.StatusNotImplemented, errCodeUnavailable, "prefetch pool not configured")
		return
	}
	var job worker.Job
	if !decodeJSON(w, r, &job) {
		return
	}
	if strings.TrimSpace(job.TrackRef) == "" {
		writeError(w, http.StatusBadRequest, errCodeBadRequest, "trackRef is required")
		return
	}
	if !h.pool.Submit(job) {
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, errCodeUnavailable, "prefetch queue is full")
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// InvalidateTrack handles DELETE /tracks/cache?trackRef=...
func (h *Handler) InvalidateTrack(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("trackRef")
	if strings.TrimSpace(ref) == "" {
		writeError(w, http.StatusBadRequest, errCodeBadRequest, "trackRef is required")
		return
	}
	if err := h.svc.InvalidateTrack(r.Context(), ref); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearCaches handles DELETE /cache
func (h *Handler) ClearCaches(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearCaches(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Compatibility handles GET /compatibility?track1=...&track2=...[&bpmMatch=false][&keyMatch=false]
func (h *Handler) Compatibility(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	settings := domain.DefaultMixSettings()
	for name, dst := range map[string]*bool{"bpmMatch": &settings.BPMMatch, "keyMatch": &settings.KeyMatch} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errCodeBadRequest, name+" must be a boolean")
			return
		}
		*dst = v
	}

	c, err := h.svc.Compatibility(r.Context(), q.Get("track1"), q.Get("track2"), settings)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type resolveRequest struct {
	Prompt string `json:"prompt"`
	Track1 string `json:"track1"`
	Track2 string `json:"track2"`
}

// Resolve handles POST /resolve. Both tracks must already be analysed.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.ResolvePrompt(r.Context(), req.Prompt, req.Track1, req.Track2)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
