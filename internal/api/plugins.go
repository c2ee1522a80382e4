package api

import (
	"net/http"

	"github.com/meridian-mobility/safetyindex/internal/plugins"
)

type PluginsHandler struct {
	registry *plugins.Registry
}

func NewPluginsHandler(registry *plugins.Registry) *PluginsHandler {
	return &PluginsHandler{registry: registry}
}

// List handles GET /api/v1/plugins: per-plugin health plus the advisory
// weight validation.
func (h *PluginsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"plugins": h.registry.Statuses(r.Context()),
		"weights": h.registry.ValidateWeights(),
	})
}
