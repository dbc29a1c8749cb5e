package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wardendesk/api/internal/db"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteError writes an error response
func WriteError(w http.ResponseWriter, statusCode int, err error, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: err.Error(),
	}

	if details != nil {
		response.Details = details
	}

	json.NewEncoder(w).Encode(response)
}

// WriteStoreError maps storage sentinel errors onto HTTP statuses
func WriteStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		WriteError(w, http.StatusNotFound, err, nil)
	case errors.Is(err, db.ErrConflict):
		WriteError(w, http.StatusConflict, err, nil)
	case errors.Is(err, db.ErrDuplicate):
		WriteError(w, http.StatusConflict, err, nil)
	default:
		WriteError(w, http.StatusInternalServerError, err, nil)
	}
}

// WriteSuccess writes a success response
func WriteSuccess(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}
