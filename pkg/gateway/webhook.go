package gateway

import (
	"errors"
	"io"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"smsform/pkg/config"
	"smsform/pkg/dispatch"
	"smsform/pkg/event"
)

type webhookResponse struct {
	Status string `json:"status"`
	Events int    `json:"events"`
}

// handleWebhook normalizes an Event Grid delivery, answers a subscription
// handshake synchronously, and otherwise enqueues the events and acknowledges.
func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	requestID := chimw.GetReqID(r.Context())

	limit := s.cfg.Server.MaxBodyBytes
	if limit <= 0 {
		limit = config.DefaultMaxBodyBytes
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	batch, err := event.Normalize(raw, s.log)
	if err != nil {
		s.log.Warn("Rejected webhook payload", "request_id", requestID, "error", err)
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	validation, isHandshake, err := event.Handshake(batch.Events)
	if isHandshake {
		if err != nil {
			s.log.Warn("Subscription validation failed", "request_id", requestID, "error", err)
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Info("Subscription validation answered", "request_id", requestID)
		s.writeJSON(w, http.StatusOK, validation)
		return
	}

	if err := s.dispatcher.Submit(r.Context(), batch.Events); err != nil {
		if errors.Is(err, dispatch.ErrQueueUnavailable) {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.log.Error("Failed to enqueue webhook events", "request_id", requestID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to enqueue events")
		return
	}

	s.writeJSON(w, http.StatusOK, webhookResponse{Status: "success", Events: len(batch.Events)})
}
