package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-mobility/safetyindex/internal/engine"
	"github.com/meridian-mobility/safetyindex/internal/store"
)

// Scorer is the engine surface the index handler needs.
type Scorer interface {
	ScoreRange(ctx context.Context, req engine.ScoreRequest) ([]*store.SafetyIndexRecord, error)
}

type IndexHandler struct {
	scorer Scorer
}

func NewIndexHandler(scorer Scorer) *IndexHandler {
	return &IndexHandler{scorer: scorer}
}

// Get handles GET /api/v1/intersections/{id}/safety-index.
// Query params: start, end (RFC3339, default last 24h), alpha (optional
// override in [0,1]).
func (h *IndexHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "intersection id required"})
		return
	}

	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid end: " + err.Error()})
			return
		}
		end = t
		start = end.Add(-24 * time.Hour)
	}
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid start: " + err.Error()})
			return
		}
		start = t
	}
	if !end.After(start) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "end must be after start"})
		return
	}

	req := engine.ScoreRequest{IntersectionID: id, Start: start, End: end}
	if v := r.URL.Query().Get("alpha"); v != "" {
		alpha, err := strconv.ParseFloat(v, 64)
		if err != nil || alpha < 0 || alpha > 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "alpha must be a number in [0,1]"})
			return
		}
		req.Alpha = &alpha
	}

	recs, err := h.scorer.ScoreRange(r.Context(), req)
	if err != nil {
		writeScoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"intersection_id": id,
		"start":           start,
		"end":             end,
		"records":         recs,
	})
}
