package api

import (
	"context"
	"net/http"
)

// CalibrationRunner triggers one synchronous calibration pass.
type CalibrationRunner interface {
	RunOnce(ctx context.Context) error
}

type AdminHandler struct {
	calibrator CalibrationRunner
}

func NewAdminHandler(calibrator CalibrationRunner) *AdminHandler {
	return &AdminHandler{calibrator: calibrator}
}

// Calibrate handles POST /api/v1/admin/calibrate.
func (h *AdminHandler) Calibrate(w http.ResponseWriter, r *http.Request) {
	if err := h.calibrator.RunOnce(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "calibrated"})
}
