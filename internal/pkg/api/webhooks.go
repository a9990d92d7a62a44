package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/andrey-berenda/paysettle/internal/pkg/log"
	"github.com/andrey-berenda/paysettle/internal/pkg/models"
	"github.com/andrey-berenda/paysettle/internal/pkg/payerr"
	"github.com/andrey-berenda/paysettle/internal/pkg/webhook"
)

const (
	yocoSignatureHeader = "webhook-signature"
	yocoIDHeader        = "webhook-id"
)

// payfastWebhook answers with the plain text PayFast expects. A delivery that
// fails verification is acknowledged so PayFast stops retrying it.
func (s *Server) payfastWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "ERR", http.StatusBadRequest)
		return
	}

	_, err = s.ingestor.Ingest(r.Context(), webhook.Delivery{Provider: models.ProviderPayFast, Body: body})
	switch {
	case err == nil, errors.Is(err, payerr.ErrVerification):
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "OK")
	case errors.Is(err, payerr.ErrInvalidRequest):
		http.Error(w, "ERR", http.StatusBadRequest)
	case errors.Is(err, payerr.ErrNotFound):
		http.Error(w, "ERR", http.StatusNotFound)
	default:
		s.logger.Errorw("payfast webhook", log.Provider(models.ProviderPayFast), "error", err)
		http.Error(w, "ERR", http.StatusInternalServerError)
	}
}

func (s *Server) yocoWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]bool{"ok": false})
		return
	}

	_, err = s.ingestor.Ingest(r.Context(), webhook.Delivery{
		Provider:  models.ProviderYoco,
		Body:      body,
		Signature: yocoSignature(r.Header),
		EventID:   r.Header.Get(yocoIDHeader),
	})
	if err != nil {
		status := statusOf(err)
		if status == http.StatusInternalServerError {
			s.logger.Errorw("yoco webhook", log.Provider(models.ProviderYoco), "error", err)
		}
		writeJSON(w, status, map[string]bool{"ok": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// yocoSignature takes the first signature of the header, which may carry
// several separated by spaces.
func yocoSignature(h http.Header) string {
	value := h.Get(yocoSignatureHeader)
	if value == "" {
		value = h.Get("X-Yoco-Signature")
	}
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
