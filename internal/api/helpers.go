package api

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
)

// writeJSON encodes the response into a buffer first to prevent partial
// writes, then sends it with the given status code. This is a shared helper
// used across all handlers for consistent response handling.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		log.Printf("api: failed to encode response: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Printf("api: failed to write response: %v", err)
	}
}

// accountActionPath splits "/api/v1/accounts/{id}/{action}" into its id and
// action. The action may be empty ("/api/v1/accounts/{id}").
func accountActionPath(path string) (int64, string, bool) {
	rest := strings.TrimPrefix(path, "/api/v1/accounts/")
	if rest == path || rest == "" {
		return 0, "", false
	}

	idPart, action, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}

	return id, strings.TrimSuffix(action, "/"), true
}
