package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func defaultSchedule(t *testing.T) FeeSchedule {
	t.Helper()
	s, err := NewFeeSchedule("0.134", 4500, 50000)
	require.NoError(t, err)
	return s
}

func TestBreakdownRoundsRateFee(t *testing.T) {
	b, err := defaultSchedule(t).Breakdown(33600)
	require.NoError(t, err)
	require.Equal(t, FeeBreakdown{VenueAmount: 33600, PlatformFee: 4502, Total: 38102}, b)
}

func TestBreakdownClampsToBounds(t *testing.T) {
	s := defaultSchedule(t)

	low, err := s.Breakdown(1000)
	require.NoError(t, err)
	require.Equal(t, Money(4500), low.PlatformFee)
	require.Equal(t, Money(5500), low.Total)

	zero, err := s.Breakdown(0)
	require.NoError(t, err)
	require.Equal(t, Money(4500), zero.PlatformFee)

	high, err := s.Breakdown(10_000_000)
	require.NoError(t, err)
	require.Equal(t, Money(50000), high.PlatformFee)
	require.Equal(t, Money(10_050_000), high.Total)
}

func TestFeeRoundsHalfAwayFromZero(t *testing.T) {
	s, err := NewFeeSchedule("0.5", 0, 1000)
	require.NoError(t, err)
	require.Equal(t, Money(2), s.Fee(3))
	require.Equal(t, Money(3), s.Fee(5))
}

func TestBreakdownTotalInvariant(t *testing.T) {
	s := defaultSchedule(t)
	for _, amount := range []Money{0, 1, 999, 33581, 33600, 100000, 373134, 373135, 5_000_000} {
		b, err := s.Breakdown(amount)
		require.NoError(t, err)
		require.Equal(t, b.VenueAmount+b.PlatformFee, b.Total)
		require.GreaterOrEqual(t, b.PlatformFee, s.Min)
		require.LessOrEqual(t, b.PlatformFee, s.Max)
	}
}

func TestBreakdownNearMoneyLimit(t *testing.T) {
	s := defaultSchedule(t)
	for _, amount := range []Money{math.MaxInt64 - s.Max - 1, math.MaxInt64 - s.Max} {
		b, err := s.Breakdown(amount)
		require.NoError(t, err)
		require.Equal(t, s.Max, b.PlatformFee)
		require.Equal(t, b.VenueAmount+b.PlatformFee, b.Total)
		require.Positive(t, b.Total)
	}

	_, err := s.Breakdown(math.MaxInt64)
	require.ErrorIs(t, err, ErrAmountTooLarge)
	_, err = s.Breakdown(math.MaxInt64 - s.Max + 1)
	require.ErrorIs(t, err, ErrAmountTooLarge)
}

func TestFeeClampsProductBeyondMoney(t *testing.T) {
	s := MustFeeSchedule("2", 0, math.MaxInt64)
	require.Equal(t, Money(math.MaxInt64), s.Fee(math.MaxInt64/2+10))

	capped := MustFeeSchedule("2", 100, 5000)
	require.Equal(t, Money(5000), capped.Fee(math.MaxInt64))
}

func TestBreakdownRejectsNegative(t *testing.T) {
	_, err := defaultSchedule(t).Breakdown(-1)
	require.ErrorIs(t, err, ErrNegativeAmount)
}

func TestNewFeeScheduleValidates(t *testing.T) {
	_, err := NewFeeSchedule("abc", 0, 1)
	require.Error(t, err)
	_, err = NewFeeSchedule("-0.1", 0, 1)
	require.Error(t, err)
	_, err = NewFeeSchedule("0.1", 10, 5)
	require.Error(t, err)
}
