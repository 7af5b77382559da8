package booking

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-venue/internal/common"
	"github.com/noah-isme/backend-venue/internal/obs"
	"github.com/noah-isme/backend-venue/internal/payment"
	"github.com/noah-isme/backend-venue/internal/pricing"
	"github.com/noah-isme/backend-venue/internal/store"
)

// Store persists booking intents. Inserting an existing provider payment id reports false.
type Store interface {
	InsertBookingIntent(ctx context.Context, bi store.BookingIntent) (bool, error)
}

// Handler answers POST /booking-intents.
type Handler struct {
	Store           Store
	Venues          payment.VenuePricer
	Fees            pricing.FeeSchedule
	KeySecret       string
	DefaultCurrency string
	Logger          zerolog.Logger
}

type intentReq struct {
	VenueID           string `json:"venueId" validate:"required"`
	BookingDate       string `json:"bookingDate" validate:"required,datetime=2006-01-02"`
	Slot              string `json:"slot" validate:"required"`
	Guests            int    `json:"guests" validate:"gt=0"`
	VenueAmount       int64  `json:"venueAmount" validate:"gte=0"`
	PlatformFee       int64  `json:"platformFee" validate:"gte=0"`
	TotalAmount       int64  `json:"totalAmount" validate:"gt=0"`
	Currency          string `json:"currency" validate:"omitempty,len=3,alpha"`
	ProviderOrderID   string `json:"providerOrderId" validate:"required"`
	ProviderPaymentID string `json:"providerPaymentId" validate:"required"`
	ProviderSignature string `json:"providerSignature" validate:"required"`
}

// Create validates and stores a booking intent. The checkout signature must be genuine and the
// amounts must match the server-side fee breakdown.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	result := "error"
	defer func() { obs.CountOutcome(obs.BookingIntentTotal, result) }()

	var req intentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		result = "invalid"
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if fields := common.FieldErrors(req); fields != nil {
		result = "invalid"
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid booking intent", fields)
		return
	}
	logger := h.Logger.With().Str("provider_order_id", req.ProviderOrderID).Str("venue_id", req.VenueID).Logger()

	if !payment.VerifyCheckoutSignature(req.ProviderOrderID, req.ProviderPaymentID, req.ProviderSignature, h.KeySecret) {
		result = "rejected"
		logger.Warn().Msg("booking intent signature rejected")
		common.WriteAppError(w, payment.AuthenticationError("payment signature verification failed"))
		return
	}

	expected, err := h.expected(r.Context(), req)
	if err != nil {
		result = "invalid"
		common.WriteAppError(w, err)
		return
	}
	if expected.Total != req.TotalAmount || expected.PlatformFee != req.PlatformFee || expected.VenueAmount != req.VenueAmount {
		result = "rejected"
		logger.Warn().Int64("expected_total", expected.Total).Int64("total", req.TotalAmount).Msg("booking intent amount mismatch")
		common.WriteAppError(w, payment.AmountMismatchError(expected.Total, req.TotalAmount))
		return
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = h.DefaultCurrency
	}
	intent := store.BookingIntent{
		VenueID:           req.VenueID,
		BookingDate:       req.BookingDate,
		Slot:              req.Slot,
		Guests:            req.Guests,
		VenueAmount:       expected.VenueAmount,
		PlatformFee:       expected.PlatformFee,
		TotalAmount:       expected.Total,
		Currency:          currency,
		ProviderOrderID:   req.ProviderOrderID,
		ProviderPaymentID: req.ProviderPaymentID,
		ProviderSignature: req.ProviderSignature,
		Status:            store.StatusPending,
	}
	inserted, err := h.Store.InsertBookingIntent(r.Context(), intent)
	if err != nil {
		logger.Error().Err(err).Msg("booking intent insert failed")
		common.WriteAppError(w, payment.PersistenceError("failed to store booking intent", err))
		return
	}
	if !inserted {
		result = "duplicate"
		common.OK(w, http.StatusOK, map[string]any{"duplicate": true})
		return
	}
	result = "created"
	logger.Info().Int64("total", intent.TotalAmount).Msg("booking intent stored")
	common.OK(w, http.StatusCreated, map[string]any{"duplicate": false, "status": intent.Status})
}

func (h *Handler) expected(ctx context.Context, req intentReq) (pricing.FeeBreakdown, error) {
	if h.Venues != nil {
		return payment.ExpectedBreakdown(ctx, h.Venues, h.Fees, req.VenueID)
	}
	breakdown, err := h.Fees.Breakdown(req.VenueAmount)
	if err != nil {
		return pricing.FeeBreakdown{}, payment.ValidationError("INVALID_AMOUNT", err.Error())
	}
	return breakdown, nil
}
