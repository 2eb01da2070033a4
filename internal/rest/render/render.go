// Package render writes JSON responses.
package render

import (
	"net/http"

	"github.com/bytedance/sonic"
)

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	return sonic.ConfigDefault.NewEncoder(w).Encode(v)
}

// ErrorBody is the body of every error response.
type ErrorBody struct {
	Error  string `json:"error"`
	Fields any    `json:"fields,omitempty"`
}

// Error writes an error body with the given status code.
func Error(w http.ResponseWriter, status int, message string) error {
	return JSON(w, status, ErrorBody{Error: message})
}
