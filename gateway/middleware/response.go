package middleware

import (
	"encoding/json"
	"net/http"
)

// writeJSONError emits the same error envelope the gateway handlers use so
// callers see one error shape regardless of which layer rejected the request.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
