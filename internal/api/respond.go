package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/meridian-mobility/safetyindex/internal/engine"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeScoreError maps the engine's error taxonomy onto HTTP statuses:
// no data in the window is 404, a too-thin MCDM history is 422,
// everything else is a plain 500.
func writeScoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNoData):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, engine.ErrInsufficientHistory):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
