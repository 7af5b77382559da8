package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value stored in minor units.
type Money = int64

// ErrNegativeAmount is returned when a venue amount below zero is priced.
var ErrNegativeAmount = errors.New("pricing: venue amount must not be negative")

// ErrAmountTooLarge is returned when venue amount plus the largest fee does not fit in Money.
var ErrAmountTooLarge = errors.New("pricing: venue amount too large")

// FeeSchedule describes the platform fee applied on top of a venue price.
type FeeSchedule struct {
	Rate decimal.Decimal
	Min  Money
	Max  Money
}

// FeeBreakdown is the result of pricing a venue amount.
type FeeBreakdown struct {
	VenueAmount Money `json:"venueAmount"`
	PlatformFee Money `json:"platformFee"`
	Total       Money `json:"total"`
}

// NewFeeSchedule parses rate as a decimal fraction (for example "0.134") and validates the bounds.
func NewFeeSchedule(rate string, min, max Money) (FeeSchedule, error) {
	r, err := decimal.NewFromString(rate)
	if err != nil {
		return FeeSchedule{}, fmt.Errorf("pricing: invalid fee rate %q: %w", rate, err)
	}
	if r.IsNegative() {
		return FeeSchedule{}, fmt.Errorf("pricing: fee rate %s must not be negative", r)
	}
	if min < 0 || max < min {
		return FeeSchedule{}, fmt.Errorf("pricing: invalid fee bounds min=%d max=%d", min, max)
	}
	return FeeSchedule{Rate: r, Min: min, Max: max}, nil
}

// MustFeeSchedule is NewFeeSchedule for constants known to be valid.
func MustFeeSchedule(rate string, min, max Money) FeeSchedule {
	s, err := NewFeeSchedule(rate, min, max)
	if err != nil {
		panic(err)
	}
	return s
}

// Fee returns clamp(round(venueAmount*rate), Min, Max). Halves round away from zero.
func (s FeeSchedule) Fee(venueAmount Money) Money {
	raw := decimal.NewFromInt(venueAmount).Mul(s.Rate).Round(0)
	switch {
	case raw.LessThan(decimal.NewFromInt(s.Min)):
		return s.Min
	case raw.GreaterThan(decimal.NewFromInt(s.Max)):
		return s.Max
	}
	return raw.IntPart()
}

// Breakdown prices venueAmount. Total always equals VenueAmount + PlatformFee.
func (s FeeSchedule) Breakdown(venueAmount Money) (FeeBreakdown, error) {
	if venueAmount < 0 {
		return FeeBreakdown{}, ErrNegativeAmount
	}
	if venueAmount > math.MaxInt64-s.Max {
		return FeeBreakdown{}, ErrAmountTooLarge
	}
	fee := s.Fee(venueAmount)
	return FeeBreakdown{
		VenueAmount: venueAmount,
		PlatformFee: fee,
		Total:       venueAmount + fee,
	}, nil
}
