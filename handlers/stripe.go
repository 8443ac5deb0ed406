package handlers

import (
	"errors"
	"io"
	"net/http"

	"zen.app/cloud/internal/logger"
	"zen.app/cloud/licensing"
	"zen.app/cloud/payments"
)

const maxWebhookBodyBytes = int64(65536)

type WebhookResponse struct {
	Received bool `json:"received"`
}

// Stripe accepts payment events. Any non-2xx answer makes Stripe deliver the
// event again, so only failures a retry can fix answer with an error.
func (s *Server) Stripe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("Failed to read webhook payload", map[string]interface{}{
			"error": err.Error(),
		})
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeErrorResponse(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		writeErrorResponse(w, http.StatusServiceUnavailable, "Failed to read payload")
		return
	}

	event, err := s.Verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		logger.Warn("Webhook rejected", map[string]interface{}{
			"error":        err.Error(),
			"payload_size": len(payload),
		})
		if errors.Is(err, payments.ErrInvalidSignature) {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid signature")
			return
		}
		writeErrorResponse(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	if event.Checkout == nil {
		logger.Info("Unhandled webhook event type", map[string]interface{}{
			"event_type": event.Type,
			"event_id":   event.ID,
		})
		writeJSON(w, http.StatusOK, WebhookResponse{Received: true})
		return
	}

	checkout := event.Checkout
	license, created, err := s.Licenses.Issue(r.Context(), licensing.Purchase{
		SessionID:  checkout.SessionID,
		CustomerID: checkout.CustomerID,
		ProductID:  checkout.ProductID,
		Email:      checkout.Email,
		AmountPaid: checkout.AmountTotal,
	})
	if errors.Is(err, licensing.ErrInvalidPurchase) {
		// Redelivery cannot fix the event, so it is acknowledged.
		logger.Warn("Checkout cannot be turned into a license", map[string]interface{}{
			"error":      err.Error(),
			"event_id":   event.ID,
			"session_id": checkout.SessionID,
		})
		writeJSON(w, http.StatusOK, WebhookResponse{Received: true})
		return
	}
	if err != nil {
		reportError(r, "Failed to issue license", err, map[string]interface{}{
			"event_id":   event.ID,
			"session_id": checkout.SessionID,
		})
		writeErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	logger.Info("Webhook processed successfully", map[string]interface{}{
		"event_type": event.Type,
		"event_id":   event.ID,
		"license_id": license.ID,
		"created":    created,
	})

	writeJSON(w, http.StatusOK, WebhookResponse{Received: true})
}
