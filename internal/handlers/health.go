package handlers

import (
	"encoding/json"
	"net/http"
)

// HealthCheck answers the panel's liveness probe. It reports process health
// only; database and hypervisor reachability surface through job results.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	response := map[string]string{
		"status":  "ok",
		"service": "virtshift-api",
	}
	json.NewEncoder(w).Encode(response)
}
