package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/noah-isme/backend-venue/internal/checkout"
	"github.com/noah-isme/backend-venue/internal/obs"
	"github.com/noah-isme/backend-venue/internal/pricing"
	"github.com/noah-isme/backend-venue/internal/resilience"
)

// Runs one checkout against a running API with the sandbox widget standing in for the
// provider's browser checkout. Only useful with test-mode provider keys.
func main() {
	_ = godotenv.Load()
	logger := obs.NewLogger("console", "info").With().Str("component", "checkout-tool").Logger()

	apiURL := flag.String("api", "http://localhost:8080", "booking API base URL")
	venueID := flag.String("venue", "", "venue id")
	date := flag.String("date", time.Now().AddDate(0, 0, 7).Format("2006-01-02"), "booking date (YYYY-MM-DD)")
	slot := flag.String("slot", "18:00-20:00", "time slot")
	guests := flag.Int("guests", 2, "number of guests")
	amount := flag.Int64("amount", 0, "venue amount in minor units")
	currency := flag.String("currency", "", "ISO 4217 currency, empty for the API default")
	outcome := flag.String("outcome", "success", "success, cancel or fail")
	timeout := flag.Duration("timeout", 15*time.Second, "per-request timeout")
	flag.Parse()

	keySecret := strings.TrimSpace(os.Getenv("RAZORPAY_KEY_SECRET"))
	if !strings.HasPrefix(strings.TrimSpace(os.Getenv("RAZORPAY_KEY_ID")), "rzp_test_") {
		logger.Fatal().Msg("refusing to run without a test-mode RAZORPAY_KEY_ID")
	}
	want, err := checkout.ParseOutcome(*outcome)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid -outcome")
	}
	fees, err := pricing.NewFeeSchedule(envOr("FEE_RATE", "0.134"), 4500, 50000)
	if err != nil {
		logger.Fatal().Err(err).Msg("fee schedule")
	}

	client := resilience.HTTPClient{
		Client: &http.Client{Timeout: *timeout},
		Breaker: resilience.NewBreaker(resilience.Settings{
			Target:      "booking-api",
			MinRequests: 3,
			OpenFor:     10 * time.Second,
			Logger:      &logger,
		}),
		MaxAttempts: 1,
		Logger:      &logger,
	}
	o := &checkout.Orchestrator{
		Fees:     fees,
		Orders:   checkout.OrderClient{BaseURL: *apiURL, HTTP: client},
		Widget:   checkout.SandboxWidget{KeySecret: keySecret, Outcome: want},
		Bookings: checkout.IntentClient{BaseURL: *apiURL, HTTP: client},
		Currency: strings.ToUpper(envOr("PAYMENT_DEFAULT_CURRENCY", "INR")),
		Logger:   logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := o.Checkout(ctx, checkout.BookingDraft{
		VenueID:     *venueID,
		Date:        *date,
		Slot:        *slot,
		Guests:      *guests,
		VenueAmount: *amount,
		Currency:    *currency,
	})
	var verr *checkout.ValidationError
	var failure *checkout.Failure
	switch {
	case errors.As(err, &verr):
		for field, msg := range verr.Fields {
			logger.Error().Str("field", field).Msg(msg)
		}
		os.Exit(2)
	case errors.As(err, &failure):
		logger.Error().Err(failure.Cause).Msg(failure.Message)
		os.Exit(1)
	case err != nil:
		logger.Fatal().Err(err).Msg("checkout")
	}

	event := logger.Info().Str("status", string(res.Status)).Str("receipt", res.Receipt).
		Int64("venue_amount", res.Fees.VenueAmount).Int64("platform_fee", res.Fees.PlatformFee).Int64("total", res.Fees.Total)
	if res.Intent != nil {
		event = event.Str("order_id", res.Intent.ProviderOrderID).Str("payment_id", res.Intent.ProviderPaymentID)
	}
	event.Msg("checkout finished")
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
