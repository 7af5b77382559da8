package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-venue/internal/obs"
)

const uniqueViolation = "23505"

// DBTX is the subset of pgxpool.Pool used by Postgres.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres stores audit rows, booking intents and venue prices in PostgreSQL.
type Postgres struct {
	DB   DBTX
	pool *pgxpool.Pool
}

// OpenPostgres connects a pool with query tracing enabled.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.ConnConfig.Tracer = obs.PGXTracer{}
	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = "backend-venue"
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &Postgres{DB: pool, pool: pool}, nil
}

// Close releases the underlying pool when it was opened by OpenPostgres.
func (p *Postgres) Close() {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
}

// Ping checks connectivity within timeout.
func (p *Postgres) Ping(ctx context.Context, timeout time.Duration) error {
	if p == nil || p.pool == nil {
		return errors.New("store: postgres not connected")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.pool.Ping(ctx)
}

// InsertWebhookEvent records ev. It reports false without error when the event id already exists.
func (p *Postgres) InsertWebhookEvent(ctx context.Context, ev WebhookEvent) (bool, error) {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	tag, err := p.DB.Exec(ctx, `
		INSERT INTO payment_webhook_events
			(id, gateway_name, event_type, event_id, payload, signature_valid, processed, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, $7)
		ON CONFLICT (event_id) DO NOTHING`,
		uuid.New(), ev.GatewayName, ev.EventType, ev.EventID, []byte(ev.Payload), ev.SignatureValid, ev.ReceivedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert webhook event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const webhookColumns = `id::text, gateway_name, event_type, event_id, payload, signature_valid, processed, received_at, processed_at`

// GetWebhookEvent loads the audit row for eventID.
func (p *Postgres) GetWebhookEvent(ctx context.Context, eventID string) (WebhookEvent, error) {
	row := p.DB.QueryRow(ctx, `SELECT `+webhookColumns+` FROM payment_webhook_events WHERE event_id = $1`, eventID)
	ev, err := scanWebhookEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return WebhookEvent{}, ErrNotFound
	}
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("get webhook event: %w", err)
	}
	return ev, nil
}

// ListWebhookEvents returns audit rows newest first.
func (p *Postgres) ListWebhookEvents(ctx context.Context, f EventFilter) ([]WebhookEvent, error) {
	rows, err := p.DB.Query(ctx, `
		SELECT `+webhookColumns+`
		FROM payment_webhook_events
		WHERE ($1::boolean IS NULL OR processed = $1)
		ORDER BY received_at DESC
		LIMIT $2 OFFSET $3`, f.Processed, f.limit(), f.offset())
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()
	var out []WebhookEvent
	for rows.Next() {
		ev, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MarkWebhookProcessed flips processed to true. It reports false when the row was already processed.
func (p *Postgres) MarkWebhookProcessed(ctx context.Context, eventID string) (bool, error) {
	tag, err := p.DB.Exec(ctx, `
		UPDATE payment_webhook_events
		SET processed = true, processed_at = now()
		WHERE event_id = $1 AND processed = false`, eventID)
	if err != nil {
		return false, fmt.Errorf("mark webhook processed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertBookingIntent persists bi. It reports false without error when the provider payment id exists.
func (p *Postgres) InsertBookingIntent(ctx context.Context, bi BookingIntent) (bool, error) {
	if bi.ID == "" {
		bi.ID = uuid.NewString()
	}
	if bi.Status == "" {
		bi.Status = StatusPending
	}
	tag, err := p.DB.Exec(ctx, `
		INSERT INTO booking_intents
			(id, venue_id, booking_date, slot, guests, venue_amount, platform_fee, total_amount, currency,
			 provider_order_id, provider_payment_id, provider_signature, status)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (provider_payment_id) DO NOTHING`,
		bi.ID, bi.VenueID, bi.BookingDate, bi.Slot, bi.Guests, bi.VenueAmount, bi.PlatformFee, bi.TotalAmount,
		bi.Currency, bi.ProviderOrderID, bi.ProviderPaymentID, bi.ProviderSignature, bi.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert booking intent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const bookingColumns = `id::text, venue_id, booking_date::text, slot, guests, venue_amount, platform_fee, total_amount,
	currency, provider_order_id, provider_payment_id, provider_signature, status, created_at, updated_at`

// BookingsByOrder returns the intents recorded for providerOrderID.
func (p *Postgres) BookingsByOrder(ctx context.Context, providerOrderID string) ([]BookingIntent, error) {
	rows, err := p.DB.Query(ctx, `SELECT `+bookingColumns+` FROM booking_intents WHERE provider_order_id = $1`, providerOrderID)
	if err != nil {
		return nil, fmt.Errorf("bookings by order: %w", err)
	}
	defer rows.Close()
	var out []BookingIntent
	for rows.Next() {
		var bi BookingIntent
		if err := rows.Scan(&bi.ID, &bi.VenueID, &bi.BookingDate, &bi.Slot, &bi.Guests, &bi.VenueAmount,
			&bi.PlatformFee, &bi.TotalAmount, &bi.Currency, &bi.ProviderOrderID, &bi.ProviderPaymentID,
			&bi.ProviderSignature, &bi.Status, &bi.CreatedAt, &bi.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan booking intent: %w", err)
		}
		out = append(out, bi)
	}
	return out, rows.Err()
}

// UpdateBookingStatusByOrder moves every intent paid through c.ProviderOrderID to c.Status when its
// current status allows the transition and, for paid or authorized, its total equals c.Amount.
// It returns the number of intents changed.
func (p *Postgres) UpdateBookingStatusByOrder(ctx context.Context, c StatusChange) (int64, error) {
	prior := PriorStatuses(c.Status)
	if len(prior) == 0 {
		return 0, fmt.Errorf("update booking status: unknown status %q", c.Status)
	}
	tag, err := p.DB.Exec(ctx, `
		UPDATE booking_intents SET status = $2, updated_at = now()
		WHERE provider_order_id = $1 AND status = ANY($3) AND (NOT $4 OR total_amount = $5)`,
		c.ProviderOrderID, c.Status, prior, AmountChecked(c.Status), c.Amount)
	if err != nil {
		return 0, fmt.Errorf("update booking status: %w", err)
	}
	return tag.RowsAffected(), nil
}

// VenuePrice returns the trusted per-booking price of a venue in minor units.
func (p *Postgres) VenuePrice(ctx context.Context, venueID string) (int64, error) {
	var price int64
	err := p.DB.QueryRow(ctx, `SELECT price_minor FROM venues WHERE id = $1`, venueID).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("venue price: %w", err)
	}
	return price, nil
}

func scanWebhookEvent(row pgx.Row) (WebhookEvent, error) {
	var (
		ev      WebhookEvent
		payload []byte
	)
	if err := row.Scan(&ev.ID, &ev.GatewayName, &ev.EventType, &ev.EventID, &payload, &ev.SignatureValid,
		&ev.Processed, &ev.ReceivedAt, &ev.ProcessedAt); err != nil {
		return WebhookEvent{}, err
	}
	ev.Payload = payload
	return ev, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
