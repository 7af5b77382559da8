package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-venue/internal/common"
	"github.com/noah-isme/backend-venue/internal/pricing"
)

// GenericFailureMessage is the only failure text shown to the person paying.
const GenericFailureMessage = "We could not complete your payment. No booking was made, please try again."

// BookingDraft is what the guest picked before paying.
type BookingDraft struct {
	VenueID     string `json:"venueId" validate:"required"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Slot        string `json:"slot" validate:"required"`
	Guests      int    `json:"guests" validate:"gt=0"`
	VenueAmount int64  `json:"venueAmount" validate:"gte=0"`
	Currency    string `json:"currency" validate:"omitempty,len=3,alpha"`
}

// Order is the provider order opened for a checkout.
type Order struct {
	ID       string
	Amount   int64
	Currency string
}

// OrderRequest mirrors the create-order endpoint body.
type OrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency,omitempty"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
	VenueID  string            `json:"venueId,omitempty"`
}

// OrderCreator opens provider orders.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
}

// Outcome is how the provider checkout ended.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeSucceeded
	OutcomeCancelled
)

// WidgetRequest is handed to the provider checkout.
type WidgetRequest struct {
	OrderID     string
	Amount      int64
	Currency    string
	Description string
}

// WidgetResult is the provider checkout callback.
type WidgetResult struct {
	Outcome   Outcome
	OrderID   string
	PaymentID string
	Signature string
	Reason    string
}

// Widget drives the provider's client-side checkout.
type Widget interface {
	Open(ctx context.Context, req WidgetRequest) (WidgetResult, error)
}

// WidgetFunc adapts a function to Widget.
type WidgetFunc func(ctx context.Context, req WidgetRequest) (WidgetResult, error)

func (f WidgetFunc) Open(ctx context.Context, req WidgetRequest) (WidgetResult, error) {
	return f(ctx, req)
}

// BookingIntent is the record handed downstream once the provider reports success.
type BookingIntent struct {
	VenueID           string `json:"venueId"`
	BookingDate       string `json:"bookingDate"`
	Slot              string `json:"slot"`
	Guests            int    `json:"guests"`
	VenueAmount       int64  `json:"venueAmount"`
	PlatformFee       int64  `json:"platformFee"`
	TotalAmount       int64  `json:"totalAmount"`
	Currency          string `json:"currency"`
	ProviderOrderID   string `json:"providerOrderId"`
	ProviderPaymentID string `json:"providerPaymentId"`
	ProviderSignature string `json:"providerSignature"`
}

// BookingSink persists booking intents.
type BookingSink interface {
	SaveIntent(ctx context.Context, intent BookingIntent) error
}

// Status is the terminal state of a checkout.
type Status string

const (
	StatusBooked    Status = "booked"
	StatusCancelled Status = "cancelled"
)

// Result is returned for every checkout that did not fail.
type Result struct {
	Status  Status
	Receipt string
	Fees    pricing.FeeBreakdown
	Intent  *BookingIntent
}

// ValidationError carries problems the guest can fix, keyed by field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	return "invalid booking: " + strings.Join(keys, ", ")
}

// Failure is any other checkout error. Message is safe to display; Cause is for logs.
type Failure struct {
	Message string
	Cause   error
}

func (e *Failure) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Failure) Unwrap() error { return e.Cause }

// Orchestrator runs a checkout from fee calculation to booking intent.
type Orchestrator struct {
	Fees       pricing.FeeSchedule
	Orders     OrderCreator
	Widget     Widget
	Bookings   BookingSink
	Currency   string
	Logger     zerolog.Logger
	NewReceipt func() string
}

// Checkout prices draft, opens a provider order and drives the widget. A booking intent is created
// only when the widget reports success; cancellation ends with StatusCancelled and no error.
func (o *Orchestrator) Checkout(ctx context.Context, draft BookingDraft) (Result, error) {
	if fields := common.FieldErrors(draft); fields != nil {
		return Result{}, &ValidationError{Fields: fields}
	}
	fees, err := o.Fees.Breakdown(draft.VenueAmount)
	if err != nil {
		return Result{}, &ValidationError{Fields: map[string]string{"venueAmount": err.Error()}}
	}
	currency := strings.ToUpper(strings.TrimSpace(draft.Currency))
	if currency == "" {
		currency = o.Currency
	}
	receipt := o.receipt()
	logger := o.Logger.With().Str("receipt", receipt).Str("venue_id", draft.VenueID).Logger()

	order, err := o.Orders.CreateOrder(ctx, OrderRequest{
		Amount:   fees.Total,
		Currency: currency,
		Receipt:  receipt,
		VenueID:  draft.VenueID,
		Notes: map[string]string{
			"venueId": draft.VenueID,
			"date":    draft.Date,
			"slot":    draft.Slot,
		},
	})
	if err != nil {
		var remote *RemoteError
		if errors.As(err, &remote) && remote.Code == "VALIDATION_ERROR" && len(remote.Fields) > 0 {
			return Result{}, &ValidationError{Fields: remote.Fields}
		}
		logger.Error().Err(err).Msg("order creation failed")
		return Result{}, fail(fmt.Errorf("create order: %w", err))
	}
	if order.Currency != "" {
		currency = order.Currency
	}

	res, err := o.Widget.Open(ctx, WidgetRequest{
		OrderID:     order.ID,
		Amount:      fees.Total,
		Currency:    currency,
		Description: draft.Date + " " + draft.Slot,
	})
	if err != nil {
		logger.Error().Err(err).Str("order_id", order.ID).Msg("checkout widget failed")
		return Result{}, fail(fmt.Errorf("checkout widget: %w", err))
	}

	switch res.Outcome {
	case OutcomeCancelled:
		logger.Info().Str("order_id", order.ID).Msg("checkout cancelled by guest")
		return Result{Status: StatusCancelled, Receipt: receipt, Fees: fees}, nil
	case OutcomeSucceeded:
	default:
		logger.Warn().Str("order_id", order.ID).Str("reason", res.Reason).Msg("checkout payment failed")
		return Result{}, fail(fmt.Errorf("payment failed: %s", res.Reason))
	}

	if res.PaymentID == "" || res.Signature == "" {
		return Result{}, fail(errors.New("success callback without payment reference"))
	}
	if res.OrderID != "" && res.OrderID != order.ID {
		return Result{}, fail(fmt.Errorf("success callback for order %s, expected %s", res.OrderID, order.ID))
	}

	intent := BookingIntent{
		VenueID:           draft.VenueID,
		BookingDate:       draft.Date,
		Slot:              draft.Slot,
		Guests:            draft.Guests,
		VenueAmount:       fees.VenueAmount,
		PlatformFee:       fees.PlatformFee,
		TotalAmount:       fees.Total,
		Currency:          currency,
		ProviderOrderID:   order.ID,
		ProviderPaymentID: res.PaymentID,
		ProviderSignature: res.Signature,
	}
	if o.Bookings != nil {
		if err := o.Bookings.SaveIntent(ctx, intent); err != nil {
			// The payment exists at the provider; reconciliation keys on the order id.
			logger.Error().Err(err).Str("order_id", order.ID).Str("payment_id", res.PaymentID).Msg("booking intent not saved")
			return Result{}, fail(fmt.Errorf("save booking intent: %w", err))
		}
	}
	logger.Info().Str("order_id", order.ID).Int64("total", fees.Total).Msg("booking intent created")
	return Result{Status: StatusBooked, Receipt: receipt, Fees: fees, Intent: &intent}, nil
}

func (o *Orchestrator) receipt() string {
	if o.NewReceipt != nil {
		return o.NewReceipt()
	}
	return "bk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func fail(cause error) *Failure {
	return &Failure{Message: GenericFailureMessage, Cause: cause}
}
