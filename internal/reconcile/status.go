package reconcile

import (
	"encoding/json"
	"strings"

	"github.com/noah-isme/backend-venue/internal/store"
)

// StatusForEvent maps a provider event type to a booking payment status. Event types that do not
// change a booking map to "".
func StatusForEvent(eventType string) string {
	eventType = strings.ToLower(strings.TrimSpace(eventType))
	switch {
	case eventType == "payment.captured", eventType == "order.paid":
		return store.StatusPaid
	case eventType == "payment.failed":
		return store.StatusFailed
	case eventType == "payment.authorized":
		return store.StatusAuthorized
	case strings.HasPrefix(eventType, "refund."):
		return store.StatusRefunded
	default:
		return ""
	}
}

type refs struct {
	OrderID   string
	PaymentID string
	// Amount is the captured amount in minor units, 0 when the event does not carry one.
	Amount int64
}

type entityPayload struct {
	Payload struct {
		Payment *struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Amount  int64  `json:"amount"`
			} `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity struct {
				ID         string `json:"id"`
				AmountPaid int64  `json:"amount_paid"`
			} `json:"entity"`
		} `json:"order"`
		Refund *struct {
			Entity struct {
				PaymentID string `json:"payment_id"`
			} `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

func extractRefs(envelope []byte) refs {
	var body entityPayload
	if err := json.Unmarshal(envelope, &body); err != nil {
		return refs{}
	}
	var out refs
	if pay := body.Payload.Payment; pay != nil {
		out.OrderID = pay.Entity.OrderID
		out.PaymentID = pay.Entity.ID
		out.Amount = pay.Entity.Amount
	}
	if ord := body.Payload.Order; ord != nil {
		if out.OrderID == "" {
			out.OrderID = ord.Entity.ID
		}
		if out.Amount == 0 {
			out.Amount = ord.Entity.AmountPaid
		}
	}
	if ref := body.Payload.Refund; ref != nil && out.PaymentID == "" {
		out.PaymentID = ref.Entity.PaymentID
	}
	return out
}
