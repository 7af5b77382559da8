package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-venue/internal/payment"
)

// ParseOutcome maps "success", "cancel" and "fail" to an Outcome.
func ParseOutcome(value string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "success", "succeeded":
		return OutcomeSucceeded, nil
	case "cancel", "cancelled":
		return OutcomeCancelled, nil
	case "fail", "failed":
		return OutcomeFailed, nil
	default:
		return OutcomeFailed, fmt.Errorf("unknown outcome %q", value)
	}
}

// SandboxWidget stands in for the provider checkout in test mode. On success it signs
// "orderID|paymentID" with the key secret, as the provider does.
type SandboxWidget struct {
	KeySecret    string
	Outcome      Outcome
	NewPaymentID func() string
}

// Open implements Widget.
func (w SandboxWidget) Open(_ context.Context, req WidgetRequest) (WidgetResult, error) {
	switch w.Outcome {
	case OutcomeCancelled:
		return WidgetResult{Outcome: OutcomeCancelled, OrderID: req.OrderID}, nil
	case OutcomeSucceeded:
	default:
		return WidgetResult{Outcome: OutcomeFailed, OrderID: req.OrderID, Reason: "sandbox decline"}, nil
	}
	if w.KeySecret == "" {
		return WidgetResult{}, fmt.Errorf("sandbox widget: key secret not set")
	}
	paymentID := "pay_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
	if w.NewPaymentID != nil {
		paymentID = w.NewPaymentID()
	}
	return WidgetResult{
		Outcome:   OutcomeSucceeded,
		OrderID:   req.OrderID,
		PaymentID: paymentID,
		Signature: payment.ComputeSignature([]byte(req.OrderID+"|"+paymentID), w.KeySecret),
	}, nil
}
