package payment

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-venue/internal/obs"
	"github.com/noah-isme/backend-venue/internal/pricing"
	"github.com/noah-isme/backend-venue/internal/store"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// OrderRequest asks the gateway to open a provider order. Amount is in minor units.
type OrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
	VenueID  string
}

// OrderResult is the outcome of a single order creation attempt.
type OrderResult struct {
	Success            bool
	ProviderOrderID    string
	RawProviderPayload json.RawMessage
	ErrorDetail        string
}

// VenuePricer looks up the trusted price of a venue. Unknown venues return store.ErrNotFound.
type VenuePricer interface {
	VenuePrice(ctx context.Context, venueID string) (int64, error)
}

// Gateway validates order requests and forwards them to the provider.
type Gateway struct {
	Provider            Provider
	Fees                pricing.FeeSchedule
	Venues              VenuePricer
	RequireVenuePricing bool
	DefaultCurrency     string
	Logger              zerolog.Logger
}

// CreateOrder validates req, optionally checks the amount against the venue price, and makes
// exactly one provider call.
func (g *Gateway) CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	ctx, span := otel.Tracer("payment.Gateway").Start(ctx, "Gateway.CreateOrder")
	defer span.End()

	providerName := "unknown"
	if g.Provider != nil {
		providerName = g.Provider.Name()
	}
	result := "error"
	start := time.Now()
	defer func() {
		span.SetAttributes(
			attribute.String("payment.provider", providerName),
			attribute.String("payment.order.result", result),
		)
		obs.CountOutcome(obs.PaymentOrderTotal, providerName, result)
		if obs.PaymentOrderLatency != nil && result != "invalid" {
			obs.PaymentOrderLatency.WithLabelValues(providerName).Observe(obs.DurationMillis(time.Since(start)))
		}
	}()

	payload, err := g.validate(ctx, req)
	if err != nil {
		result = "invalid"
		return OrderResult{ErrorDetail: err.Error()}, err
	}
	span.SetAttributes(attribute.String("payment.receipt", payload.Receipt), attribute.Int64("payment.amount", payload.Amount))

	raw, err := g.Provider.CreateOrder(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider call failed")
		var provErr *ProviderError
		if errors.As(err, &provErr) {
			result = "rejected"
			g.Logger.Warn().Int("status", provErr.Status).Str("receipt", payload.Receipt).Msg("provider rejected order")
			return OrderResult{ErrorDetail: string(provErr.Body)}, UpstreamError(provErr.Status, provErr.Body)
		}
		result = "unavailable"
		g.Logger.Error().Err(err).Str("receipt", payload.Receipt).Msg("provider order call failed")
		return OrderResult{ErrorDetail: "payment provider unavailable"}, TransportError(err)
	}

	var order struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &order); err != nil || strings.TrimSpace(order.ID) == "" {
		if err == nil {
			err = errors.New("order id missing")
		}
		result = "malformed"
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider answer unusable")
		g.Logger.Error().Err(err).Str("receipt", payload.Receipt).Msg("provider order answer unusable")
		return OrderResult{ErrorDetail: "payment provider returned an unusable answer"}, MalformedAnswerError(err)
	}
	result = "success"
	span.SetAttributes(attribute.String("payment.order.id", order.ID))
	return OrderResult{Success: true, ProviderOrderID: order.ID, RawProviderPayload: raw}, nil
}

func (g *Gateway) validate(ctx context.Context, req OrderRequest) (OrderPayload, error) {
	if g.Provider == nil {
		return OrderPayload{}, errors.New("payment: provider not configured")
	}
	if req.Amount <= 0 {
		return OrderPayload{}, ValidationError("INVALID_AMOUNT", "amount must be a positive integer in minor units")
	}
	receipt := strings.TrimSpace(req.Receipt)
	if receipt == "" {
		return OrderPayload{}, ValidationError("INVALID_RECEIPT", "receipt is required")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = g.DefaultCurrency
	}
	if currency == "" {
		currency = "INR"
	}
	if !currencyPattern.MatchString(currency) {
		return OrderPayload{}, ValidationError("INVALID_CURRENCY", "currency must be a three-letter ISO code")
	}
	if err := g.checkVenueAmount(ctx, strings.TrimSpace(req.VenueID), req.Amount); err != nil {
		return OrderPayload{}, err
	}
	notes := req.Notes
	if notes == nil {
		notes = map[string]string{}
	}
	return OrderPayload{
		Amount:         req.Amount,
		Currency:       currency,
		Receipt:        receipt,
		Notes:          notes,
		PaymentCapture: 1,
	}, nil
}

func (g *Gateway) checkVenueAmount(ctx context.Context, venueID string, amount int64) error {
	if venueID == "" {
		if g.RequireVenuePricing {
			return ValidationError("VENUE_REQUIRED", "venueId is required")
		}
		return nil
	}
	if g.Venues == nil {
		if g.RequireVenuePricing {
			return errors.New("payment: venue pricing required but not configured")
		}
		return nil
	}
	breakdown, err := ExpectedBreakdown(ctx, g.Venues, g.Fees, venueID)
	if err != nil {
		return err
	}
	if breakdown.Total != amount {
		return AmountMismatchError(breakdown.Total, amount)
	}
	return nil
}

// ExpectedBreakdown prices venueID from its trusted price.
func ExpectedBreakdown(ctx context.Context, venues VenuePricer, fees pricing.FeeSchedule, venueID string) (pricing.FeeBreakdown, error) {
	price, err := venues.VenuePrice(ctx, venueID)
	if errors.Is(err, store.ErrNotFound) {
		return pricing.FeeBreakdown{}, ValidationError("UNKNOWN_VENUE", "venue not found")
	}
	if err != nil {
		return pricing.FeeBreakdown{}, PersistenceError("failed to load venue price", err)
	}
	breakdown, err := fees.Breakdown(price)
	if err != nil {
		return pricing.FeeBreakdown{}, PersistenceError("stored venue price is invalid", err)
	}
	return breakdown, nil
}
