package payment

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-venue/internal/common"
	"github.com/noah-isme/backend-venue/internal/store"
)

// EventReader lists and loads recorded webhook events.
type EventReader interface {
	ListWebhookEvents(ctx context.Context, f store.EventFilter) ([]store.WebhookEvent, error)
	GetWebhookEvent(ctx context.Context, eventID string) (store.WebhookEvent, error)
}

// Replayer re-runs reconciliation for an event even when it was already processed.
type Replayer interface {
	Replay(ctx context.Context, eventID string) error
}

// AdminHandler exposes the webhook audit trail to operators.
type AdminHandler struct {
	Events   EventReader
	Replayer Replayer
	Logger   zerolog.Logger
}

// List answers GET /admin/payment-events.
func (h AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "ADMIN_UNAVAILABLE", "event store not configured", nil)
		return
	}
	page, err := common.ParsePage(r, 50, 200)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	filter := store.EventFilter{Limit: page.Limit + 1, Offset: page.Offset()}
	if raw := strings.TrimSpace(r.URL.Query().Get("processed")); raw != "" {
		processed, err := strconv.ParseBool(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "processed must be a boolean", nil)
			return
		}
		filter.Processed = &processed
	}
	events, err := h.Events.ListWebhookEvents(r.Context(), filter)
	if err != nil {
		h.Logger.Error().Err(err).Msg("list webhook events failed")
		common.JSONError(w, http.StatusInternalServerError, "LIST_FAILED", "failed to list events", nil)
		return
	}
	if events == nil {
		events = []store.WebhookEvent{}
	}
	events, meta := common.Paginate(page, events)
	common.OK(w, http.StatusOK, map[string]any{"events": events, "pagination": meta})
}

// Replay answers POST /admin/payment-events/{eventId}/replay.
func (h AdminHandler) Replay(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil || h.Replayer == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "ADMIN_UNAVAILABLE", "replay not configured", nil)
		return
	}
	eventID := strings.TrimSpace(chi.URLParam(r, "eventId"))
	if eventID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "eventId is required", nil)
		return
	}
	if _, err := h.Events.GetWebhookEvent(r.Context(), eventID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "EVENT_NOT_FOUND", "event not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "EVENT_FETCH_FAILED", "failed to load event", nil)
		return
	}
	if err := h.Replayer.Replay(r.Context(), eventID); err != nil {
		h.Logger.Error().Err(err).Str("event_id", eventID).Msg("replay not scheduled")
		common.JSONError(w, http.StatusInternalServerError, "REPLAY_FAILED", "failed to schedule replay", nil)
		return
	}
	h.Logger.Info().Str("event_id", eventID).Str("actor", common.Actor(r.Context())).Msg("webhook event replay scheduled")
	common.OK(w, http.StatusAccepted, map[string]any{"eventId": eventID, "scheduled": true})
}
