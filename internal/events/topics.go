package events

// Topic constants for domain events emitted by the payment boundary.
const (
	TopicPaymentReconciled = "payment.reconciled"
	TopicBookingPaid       = "booking.paid"
	TopicBookingFailed     = "booking.failed"
	TopicBookingRefunded   = "booking.refunded"
)

// DefaultTopics returns the canonical list of topics published to the message bus.
func DefaultTopics() []string {
	return []string{
		TopicPaymentReconciled,
		TopicBookingPaid,
		TopicBookingFailed,
		TopicBookingRefunded,
	}
}

// TopicForStatus maps a booking payment status to its follow-up topic. ok is false when the
// status has no dedicated topic.
func TopicForStatus(status string) (topic string, ok bool) {
	switch status {
	case "paid":
		return TopicBookingPaid, true
	case "failed":
		return TopicBookingFailed, true
	case "refunded":
		return TopicBookingRefunded, true
	default:
		return "", false
	}
}
