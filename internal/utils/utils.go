package utils

import (
	"encoding/json"
	"net/http"

	"github.com/riteshkumar/agent-cash-ledger/internal/models"
)

func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func WriteError(w http.ResponseWriter, status int, errorMsg, details string) {
	response := models.ErrorResponse{
		Error:   errorMsg,
		Message: details,
	}
	WriteJSON(w, status, response)
}

// DecodeJSON decodes a request body into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
