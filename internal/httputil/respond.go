// Package httputil implements the JSON response envelope used by every
// gateway endpoint.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/coordination-labs/messaging-gateway/internal/errors"
)

// Response is the wire envelope: {success, message?, data?, error?}.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// WriteJSON writes an arbitrary envelope with the given status.
func WriteJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteSuccess writes a success envelope.
func WriteSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	WriteJSON(w, status, Response{Success: true, Message: message, Data: data})
}

// WriteError maps any error onto the envelope. ServiceErrors keep their
// status, message, and details; anything else becomes a 500.
func WriteError(w http.ResponseWriter, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("Internal server error", err)
	}

	resp := Response{Success: false, Message: serviceErr.Message}
	if serviceErr.Err != nil {
		resp.Error = serviceErr.Err.Error()
	}
	if len(serviceErr.Details) > 0 {
		resp.Data = serviceErr.Details
	}
	WriteJSON(w, serviceErr.HTTPStatus, resp)
}

// WriteErrorResponse writes an explicit error envelope without requiring a
// ServiceError value.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	resp := Response{Success: false, Message: message, Error: code}
	if len(details) > 0 {
		resp.Data = details
	}
	WriteJSON(w, status, resp)
}

// Unauthorized writes a 401 envelope.
func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Unauthorized"
	}
	WriteJSON(w, http.StatusUnauthorized, Response{Success: false, Message: message})
}
