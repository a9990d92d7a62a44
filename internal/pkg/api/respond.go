package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/andrey-berenda/paysettle/internal/pkg/payerr"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusOf(err error) int {
	var providerErr *payerr.ProviderError
	switch {
	case errors.As(err, &providerErr):
		return http.StatusBadGateway
	case errors.Is(err, payerr.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, payerr.ErrVerification):
		return http.StatusUnauthorized
	case errors.Is(err, payerr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, payerr.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers {success:false, error}. Messages of unclassified errors
// stay in the log.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	message := err.Error()
	if status == http.StatusInternalServerError && !errors.Is(err, payerr.ErrConfiguration) {
		s.logger.Errorf("request failed: %v", err)
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: message})
}
