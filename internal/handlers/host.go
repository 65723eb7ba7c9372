package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/virtshift/virtshift-api/internal/models"
	"github.com/virtshift/virtshift-api/internal/repository"
)

type HostHandler struct {
	repo   repository.HostRepository
	logger zerolog.Logger
}

func NewHostHandler(repo repository.HostRepository, logger zerolog.Logger) *HostHandler {
	return &HostHandler{
		repo:   repo,
		logger: logger,
	}
}

type createHostRequest struct {
	Name               string          `json:"name"`
	Kind               models.HostKind `json:"kind"`
	Endpoint           string          `json:"endpoint"`
	Username           string          `json:"username"`
	Password           string          `json:"password"`
	InsecureSkipVerify bool            `json:"insecure_skip_verify"`
}

func (h *HostHandler) CreateHost(w http.ResponseWriter, r *http.Request) {
	tid, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req createHostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	if req.Name == "" || req.Endpoint == "" || req.Username == "" || req.Password == "" {
		http.Error(w, "name, endpoint, username, and password are required", http.StatusBadRequest)
		return
	}
	if req.Kind != models.HostKindESXi && req.Kind != models.HostKindPVE {
		http.Error(w, "kind must be esxi or pve", http.StatusBadRequest)
		return
	}

	host, err := h.repo.Create(r.Context(), models.HypervisorHost{
		TenantID:           tid,
		Name:               req.Name,
		Kind:               req.Kind,
		Endpoint:           req.Endpoint,
		Username:           req.Username,
		Password:           req.Password,
		InsecureSkipVerify: req.InsecureSkipVerify,
	})
	if err != nil {
		http.Error(w, "Failed to register host: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, host)
}

func (h *HostHandler) GetHost(w http.ResponseWriter, r *http.Request) {
	tid, ok := requireTenant(w, r)
	if !ok {
		return
	}
	host, err := h.repo.Get(r.Context(), tid, mux.Vars(r)["hostID"])
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "Host not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get host: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, host)
}

func (h *HostHandler) ListHosts(w http.ResponseWriter, r *http.Request) {
	tid, ok := requireTenant(w, r)
	if !ok {
		return
	}
	hosts, err := h.repo.List(r.Context(), tid)
	if err != nil {
		http.Error(w, "Failed to list hosts: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, hosts)
}

func (h *HostHandler) DeleteHost(w http.ResponseWriter, r *http.Request) {
	tid, ok := requireTenant(w, r)
	if !ok {
		return
	}
	err := h.repo.Delete(r.Context(), tid, mux.Vars(r)["hostID"])
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "Host not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to delete host: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
