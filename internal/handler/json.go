// Package handler implements the daemon's local HTTP API. All writes go
// through the replica's CRUD layer, which stamps timestamps and queues
// the change for the next push; handlers never talk to the backend
// directly.
package handler

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
