package obs_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-venue/internal/obs"
)

func TestDomainMetricsCountOutcome(t *testing.T) {
	obs.MustRegisterDomainMetrics("venue_test", prometheus.NewRegistry())

	obs.CountOutcome(obs.PaymentWebhookTotal, "razorpay", "accepted")
	obs.CountOutcome(obs.PaymentWebhookTotal, "razorpay", "accepted")
	obs.CountOutcome(nil, "ignored")

	require.Equal(t, float64(2), testutil.ToFloat64(obs.PaymentWebhookTotal.WithLabelValues("razorpay", "accepted")))
}
