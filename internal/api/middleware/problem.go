package middleware

import (
	"encoding/json"
	"net/http"
)

// ProblemWriter renders an RFC 7807 error response. The status server passes its own writer
// so middleware errors look like handler errors.
type ProblemWriter func(w http.ResponseWriter, r *http.Request, status int, detail string)

// writeProblem is the ProblemWriter used when none is configured.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":           "about:blank",
		"title":          http.StatusText(status),
		"status":         status,
		"detail":         detail,
		"instance":       r.URL.Path,
		"correlation_id": GetCorrelationID(r.Context()),
	})
}
