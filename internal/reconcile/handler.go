package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-venue/internal/events"
	"github.com/noah-isme/backend-venue/internal/obs"
	"github.com/noah-isme/backend-venue/internal/store"
)

// Store is the persistence used while reconciling.
type Store interface {
	GetWebhookEvent(ctx context.Context, eventID string) (store.WebhookEvent, error)
	BookingsByOrder(ctx context.Context, providerOrderID string) ([]store.BookingIntent, error)
	UpdateBookingStatusByOrder(ctx context.Context, c store.StatusChange) (int64, error)
	MarkWebhookProcessed(ctx context.Context, eventID string) (bool, error)
}

// ErrBookingNotRecorded is returned while a paid or authorized event names an order no booking
// intent references yet. The browser posts the intent after the provider may already have sent
// the webhook, so the task is retried and the event stays unprocessed.
var ErrBookingNotRecorded = errors.New("reconcile: no booking intent recorded for order")

// Locker serialises status changes for one provider order.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Handler applies recorded webhook events to booking intents.
type Handler struct {
	Store   Store
	Bus     *events.Bus
	Locker  Locker
	LockTTL time.Duration
	Logger  zerolog.Logger
}

// Outcome summarises one reconciliation run.
type Outcome struct {
	EventID         string
	EventType       string
	ProviderOrderID string
	Status          string
	BookingsUpdated int64
	// AmountMismatches counts bookings left unchanged because their total differs from the
	// amount the provider captured.
	AmountMismatches int
	Skipped          bool
}

// ProcessTask implements asynq.Handler.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || strings.TrimSpace(p.EventID) == "" {
		h.Logger.Error().Bytes("payload", t.Payload()).Msg("discarding malformed reconcile task")
		return fmt.Errorf("decode reconcile payload: %w", asynq.SkipRetry)
	}
	_, err := h.Reconcile(ctx, p)
	return err
}

// Reconcile applies the event named by p. Unknown events are not retried.
func (h *Handler) Reconcile(ctx context.Context, p Payload) (out Outcome, err error) {
	ctx, span := otel.Tracer("reconcile.Handler").Start(ctx, "Handler.Reconcile")
	defer span.End()
	out.EventID = p.EventID
	result := "error"
	defer func() {
		eventType := out.EventType
		if eventType == "" {
			eventType = "unknown"
		}
		span.SetAttributes(
			attribute.String("payment.event.id", out.EventID),
			attribute.String("payment.reconcile.result", result),
		)
		if err != nil {
			span.RecordError(err)
		}
		obs.CountOutcome(obs.PaymentReconcileTotal, eventType, result)
	}()

	ev, err := h.Store.GetWebhookEvent(ctx, p.EventID)
	if errors.Is(err, store.ErrNotFound) {
		result = "missing"
		h.Logger.Warn().Str("event_id", p.EventID).Msg("reconcile event not found")
		return out, fmt.Errorf("event %s: %w", p.EventID, asynq.SkipRetry)
	}
	if err != nil {
		return out, fmt.Errorf("load event: %w", err)
	}
	out.EventType = ev.EventType
	if ev.Processed && !p.Force {
		result = "already_processed"
		out.Skipped = true
		return out, nil
	}

	ref := extractRefs(ev.Payload)
	out.ProviderOrderID = ref.OrderID
	out.Status = StatusForEvent(ev.EventType)
	if out.Status != "" && ref.OrderID != "" {
		update := func(ctx context.Context) error {
			return h.apply(ctx, ref, &out)
		}
		if h.Locker != nil {
			err = h.Locker.WithLock(ctx, "booking-order:"+ref.OrderID, h.lockTTL(), update)
		} else {
			err = update(ctx)
		}
		if errors.Is(err, ErrBookingNotRecorded) {
			result = "awaiting_booking"
			h.Logger.Info().Str("event_id", ev.EventID).Str("provider_order_id", ref.OrderID).
				Msg("no booking intent for order yet, retrying later")
			return out, fmt.Errorf("event %s: %w", ev.EventID, err)
		}
		if err != nil {
			return out, fmt.Errorf("update bookings: %w", err)
		}
		if out.AmountMismatches > 0 {
			h.Logger.Warn().Str("event_id", ev.EventID).Str("provider_order_id", ref.OrderID).
				Int64("captured_amount", ref.Amount).Int("bookings", out.AmountMismatches).
				Msg("booking total differs from captured amount, status left unchanged")
		}
	}

	if err := h.publish(ctx, ev, ref, out); err != nil {
		return out, err
	}

	flipped, err := h.Store.MarkWebhookProcessed(ctx, ev.EventID)
	if err != nil {
		return out, fmt.Errorf("mark processed: %w", err)
	}
	result = "applied"
	if out.AmountMismatches > 0 {
		result = "amount_mismatch"
	}
	if !flipped && !ev.Processed {
		result = "raced"
	}
	h.Logger.Info().
		Str("event_id", ev.EventID).
		Str("event_type", ev.EventType).
		Str("provider_order_id", ref.OrderID).
		Str("status", out.Status).
		Int64("bookings_updated", out.BookingsUpdated).
		Msg("payment event reconciled")
	return out, nil
}

// apply moves the bookings of ref.OrderID to out.Status. It runs under the per-order lock.
func (h *Handler) apply(ctx context.Context, ref refs, out *Outcome) error {
	bookings, err := h.Store.BookingsByOrder(ctx, ref.OrderID)
	if err != nil {
		return err
	}
	checked := store.AmountChecked(out.Status)
	if len(bookings) == 0 {
		if checked {
			return ErrBookingNotRecorded
		}
		return nil
	}
	if checked {
		for _, b := range bookings {
			if b.TotalAmount != ref.Amount {
				out.AmountMismatches++
			}
		}
	}
	n, err := h.Store.UpdateBookingStatusByOrder(ctx, store.StatusChange{
		ProviderOrderID: ref.OrderID,
		Status:          out.Status,
		Amount:          ref.Amount,
	})
	out.BookingsUpdated = n
	return err
}

func (h *Handler) publish(ctx context.Context, ev store.WebhookEvent, ref refs, out Outcome) error {
	if h.Bus == nil {
		return nil
	}
	key := ref.OrderID
	if key == "" {
		key = ev.EventID
	}
	payload := map[string]any{
		"eventId":           ev.EventID,
		"eventType":         ev.EventType,
		"providerOrderId":   ref.OrderID,
		"providerPaymentId": ref.PaymentID,
		"status":            out.Status,
		"bookingsUpdated":   out.BookingsUpdated,
		"capturedAmount":    ref.Amount,
		"amountMismatches":  out.AmountMismatches,
	}
	if _, err := h.Bus.Emit(ctx, events.TopicPaymentReconciled, key, payload); err != nil {
		return fmt.Errorf("publish reconciled event: %w", err)
	}
	if topic, ok := events.TopicForStatus(out.Status); ok && out.BookingsUpdated > 0 {
		if _, err := h.Bus.Emit(ctx, topic, key, payload); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
	}
	return nil
}

func (h *Handler) lockTTL() time.Duration {
	if h.LockTTL <= 0 {
		return 10 * time.Second
	}
	return h.LockTTL
}
