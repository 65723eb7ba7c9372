package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/virtshift/virtshift-api/internal/authz"
)

func requireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tid, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "Missing tenant context", http.StatusUnauthorized)
		return "", false
	}
	return tid, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
