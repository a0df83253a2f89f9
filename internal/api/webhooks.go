package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/httputil"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/worker"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// ReplyWebhook ingests pushed reply events. The raw body is read before
// parsing because the HMAC covers the exact bytes on the wire.
func (h *Handlers) ReplyWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.BadRequest(w, "unreadable body")
		return
	}

	err = h.ingester.Ingest(r.Context(), body, r.Header.Get(worker.SignatureHeader))
	switch {
	case err == nil:
		httputil.Accepted(w, map[string]any{"accepted": true})
	case errors.Is(err, domain.ErrBadSignature):
		httputil.Unauthorized(w, "invalid signature")
	case errors.Is(err, domain.ErrValidation):
		httputil.BadRequest(w, err.Error())
	default:
		// nothing was committed; a 5xx tells the sender to redeliver
		httputil.InternalError(w, err)
	}
}

type engagementEvent struct {
	ExternalRef string    `json:"external_ref"`
	Event       string    `json:"event"` // "opened" or "clicked"
	Timestamp   time.Time `json:"timestamp"`
}

// EngagementWebhook records open/click events against the owning job.
// Timestamps are set-once, so replays and out-of-order delivery are
// harmless.
func (h *Handlers) EngagementWebhook(w http.ResponseWriter, r *http.Request) {
	var event engagementEvent
	if !httputil.Decode(w, r, &event) {
		return
	}
	if event.ExternalRef == "" {
		httputil.BadRequest(w, "external_ref required")
		return
	}

	at := event.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	if err := h.store.MarkEngagement(r.Context(), event.ExternalRef, event.Event, at); err != nil {
		logger.Warn("engagement event rejected",
			"external_ref", event.ExternalRef,
			"event", event.Event,
			"error", err.Error())
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.Accepted(w, map[string]any{"accepted": true})
}
