package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/iota-uz/branchboard/pkg/composables"
)

// ErrorEnvelope is the JSON body of every non-2xx API response.
type ErrorEnvelope struct {
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Meta    map[string]string `json:"meta,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	if w == nil {
		return nil
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(payload)
}

func WriteError(w http.ResponseWriter, status int, code, message string, meta map[string]string) error {
	return WriteJSON(w, status, &ErrorEnvelope{
		Code:    code,
		Message: message,
		Meta:    meta,
	})
}

// WriteRequestError is WriteError with the request id of r attached.
func WriteRequestError(w http.ResponseWriter, r *http.Request, status int, code, message string) error {
	var meta map[string]string
	if id, ok := composables.UseRequestID(r.Context()); ok {
		meta = map[string]string{"request_id": id}
	}
	return WriteError(w, status, code, message, meta)
}
