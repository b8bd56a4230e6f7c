// Package httpx holds the JSON response surface shared by the coordinator's
// HTTP handlers.
package httpx

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Error string `json:"error"`
	Code  Code   `json:"code"`
}

// JSON writes v as the response body with the given status.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // there is no useful recovery from a failed response write
	json.NewEncoder(w).Encode(v)
}

// Raw writes an already-encoded JSON payload.
func Raw(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(payload) //nolint:errcheck
}

// Error writes the canonical error body for code. A non-empty detail replaces
// the canonical message, which lets upstream error text pass through
// verbatim.
func Error(w http.ResponseWriter, status int, code Code, detail string) {
	msg := detail
	if msg == "" {
		msg = Errors[code]
	}
	JSON(w, status, errorBody{Error: msg, Code: code})
}
