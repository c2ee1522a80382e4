package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-mobility/safetyindex/internal/store"
)

// RecordSource is the store surface the history handler needs.
type RecordSource interface {
	LatestIndexRecord(ctx context.Context, intersectionID string) (*store.SafetyIndexRecord, error)
	ListIndexRecords(ctx context.Context, filter store.RecordFilter) ([]*store.SafetyIndexRecord, error)
}

// LiveSource serves the cached latest record, when a cache is wired in.
type LiveSource interface {
	Latest(ctx context.Context, intersectionID string) (*store.SafetyIndexRecord, error)
}

type HistoryHandler struct {
	records RecordSource
	live    LiveSource
}

func NewHistoryHandler(records RecordSource, live LiveSource) *HistoryHandler {
	return &HistoryHandler{records: records, live: live}
}

// GetLatest handles GET /api/v1/intersections/{id}/safety-index/latest.
// The cache answers when it can; the store is the fallback.
func (h *HistoryHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "intersection id required"})
		return
	}

	if h.live != nil {
		rec, err := h.live.Latest(r.Context(), id)
		if err == nil && rec != nil {
			writeJSON(w, http.StatusOK, rec)
			return
		}
	}

	rec, err := h.records.LatestIndexRecord(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no records for intersection " + id})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// List handles GET /api/v1/intersections/{id}/history.
// Query params: from, to (RFC3339), limit.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "intersection id required"})
		return
	}

	filter := store.RecordFilter{IntersectionID: id}
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid from: " + err.Error()})
			return
		}
		filter.From = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid to: " + err.Error()})
			return
		}
		filter.To = t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		filter.Limit = n
	}

	recs, err := h.records.ListIndexRecords(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"intersection_id": id,
		"records":         recs,
	})
}
