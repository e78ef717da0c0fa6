package http

import (
	"encoding/json"
	"net/http"

	"github.com/viralforge/newsletter-service/internal/domain"
)

type apiError struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeMessage(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]any{
		"status":  "success",
		"message": message,
	})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, apiError{
		Status:  "error",
		Code:    code,
		Message: message,
	})
}

// writeSavedResponse writes a stored response byte for byte. The replay marker
// is added outside the stored headers.
func writeSavedResponse(w http.ResponseWriter, saved domain.SavedResponse, replayed bool) {
	for name, values := range saved.Headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	if replayed {
		w.Header().Set(replayedHeader, "true")
	}
	w.WriteHeader(saved.StatusCode)
	_, _ = w.Write(saved.Body)
}
