package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/virtshift/virtshift-api/internal/discovery"
)

type DiscoveryHandler struct {
	service *discovery.Service
	logger  zerolog.Logger
}

func NewDiscoveryHandler(service *discovery.Service, logger zerolog.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		service: service,
		logger:  logger,
	}
}

// RefreshInventory pulls the host's inventory synchronously and returns the
// new snapshot. Discovery is a single bulk call, cheap enough to block on.
func (h *DiscoveryHandler) RefreshInventory(w http.ResponseWriter, r *http.Request) {
	tid, ok := requireTenant(w, r)
	if !ok {
		return
	}
	hostID := mux.Vars(r)["hostID"]

	vms, err := h.service.Refresh(r.Context(), tid, hostID)
	if err != nil {
		http.Error(w, "Failed to refresh inventory: "+err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, vms)
}

func (h *DiscoveryHandler) ListInventory(w http.ResponseWriter, r *http.Request) {
	tid, ok := requireTenant(w, r)
	if !ok {
		return
	}
	hostID := mux.Vars(r)["hostID"]

	vms, err := h.service.Snapshot(r.Context(), tid, hostID)
	if err != nil {
		http.Error(w, "Failed to list inventory: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, vms)
}
