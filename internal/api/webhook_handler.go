package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/estatehub/settlement-service/internal/domain"
)

// maxWebhookBody caps how much of a webhook body is read.
const maxWebhookBody = 1 << 20

// WebhookHandler handles POST /webhooks/{provider}. The raw body is read once
// and handed to the service unparsed so the signature covers exactly the bytes sent.
func (h *Handlers) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	provider, ok := domain.ParseProvider(chi.URLParam(r, "provider"))
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown payment provider")
		return
	}
	header, err := h.service.WebhookSignatureHeader(provider)
	if err != nil {
		h.logger.Warn("webhook rejected", "component", "webhook", "provider", provider, "outcome", "reject", "reason", "provider_not_configured")
		h.writeError(w, http.StatusNotFound, "payment provider not configured")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.writeError(w, http.StatusBadRequest, "cannot read request body")
		return
	}

	result, err := h.service.HandleWebhook(r.Context(), provider, r.Header.Get(header), body)
	if err != nil {
		status := http.StatusInternalServerError
		message := "internal server error"
		switch {
		case errors.Is(err, domain.ErrInvalidSignature):
			status, message = http.StatusUnauthorized, "invalid signature"
		case errors.Is(err, domain.ErrValidation):
			status, message = http.StatusBadRequest, err.Error()
		case errors.Is(err, domain.ErrNotFound):
			status, message = http.StatusNotFound, "payment not found"
		default:
			h.logger.Error("webhook processing failed", "component", "webhook", "provider", provider, "outcome", "error", "err", err)
		}
		h.writeError(w, status, message)
		return
	}

	h.logger.Info("webhook processed", "component", "webhook", "provider", provider, "event_type", result.EventType,
		"reference", result.Reference, "ignored", result.Ignored, "transitioned", result.Transitioned)
	h.writeJSON(w, http.StatusOK, result)
}
