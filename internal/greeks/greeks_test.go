package greeks

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrice_PutCallParity(t *testing.T) {
	spot, strike, years, r, sigma := 25000.0, 25200.0, 7.0/365, 0.065, 0.14
	call := Price(Call, spot, strike, years, r, sigma)
	put := Price(Put, spot, strike, years, r, sigma)

	// C - P = S - K e^{-rt}
	parity := spot - strike*math.Exp(-r*years)
	assert.InDelta(t, parity, call-put, 1e-6)
	assert.Greater(t, call, 0.0)
	assert.Greater(t, put, 0.0)
}

func TestPrice_Reference(t *testing.T) {
	// Hull: S=42, K=40, r=10%, sigma=20%, T=0.5 gives C=4.76, P=0.81.
	assert.InDelta(t, 4.76, Price(Call, 42, 40, 0.5, 0.10, 0.20), 0.01)
	assert.InDelta(t, 0.81, Price(Put, 42, 40, 0.5, 0.10, 0.20), 0.01)
}

func TestPrice_Expired(t *testing.T) {
	assert.Equal(t, 100.0, Price(Call, 25100, 25000, 0, 0.065, 0.2))
	assert.Equal(t, 0.0, Price(Put, 25100, 25000, 0, 0.065, 0.2))
	assert.Equal(t, 1.0, Delta(Call, 25100, 25000, 0, 0.065, 0.2))
	assert.Equal(t, 0.0, Delta(Put, 25100, 25000, 0, 0.065, 0.2))
	assert.Equal(t, 0.0, Gamma(25100, 25000, 0, 0.065, 0.2))
}

func TestDelta(t *testing.T) {
	years := 5.0 / 365
	atmCall := Delta(Call, 25000, 25000, years, 0.065, 0.14)
	atmPut := Delta(Put, 25000, 25000, years, 0.065, 0.14)
	assert.InDelta(t, 0.5, atmCall, 0.05)
	assert.InDelta(t, 1.0, atmCall-atmPut, 1e-9)

	otmCall := Delta(Call, 25000, 25400, years, 0.065, 0.14)
	otmPut := Delta(Put, 25000, 24600, years, 0.065, 0.14)
	assert.Less(t, otmCall, 0.3)
	assert.Greater(t, otmPut, -0.3)
	assert.Less(t, otmPut, 0.0)
}

func TestGamma_PeaksAtTheMoney(t *testing.T) {
	years := 5.0 / 365
	atm := Gamma(25000, 25000, years, 0.065, 0.14)
	otm := Gamma(25000, 25600, years, 0.065, 0.14)
	assert.Greater(t, atm, otm)
	assert.Greater(t, otm, 0.0)
}

func TestImpliedVol_RoundTrip(t *testing.T) {
	years := 6.0 / 365
	for _, kind := range []Kind{Call, Put} {
		price := Price(kind, 25000, 25250, years, 0.065, 0.17)
		iv, err := ImpliedVol(kind, price, 25000, 25250, years, 0.065)
		require.NoError(t, err)
		assert.InDelta(t, 0.17, iv, 1e-3)
	}
}

func TestImpliedVol_Bounds(t *testing.T) {
	years := 6.0 / 365
	_, err := ImpliedVol(Call, 0, 25000, 25250, years, 0.065)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	// Below the discounted intrinsic value of a deep put.
	iv, err := ImpliedVol(Put, 900, 25000, 26000, years, 0.065)
	require.NoError(t, err)
	assert.Equal(t, MinVol, iv)

	iv, err = ImpliedVol(Call, 20000, 25000, 26000, years, 0.065)
	require.NoError(t, err)
	assert.Equal(t, MaxVol, iv)
}

func TestFromPrice(t *testing.T) {
	years := 6.0 / 365
	price := Price(Put, 25000, 24700, years, 0.065, 0.15)
	g, err := FromPrice(Put, price, 25000, 24700, years, 0.065)
	require.NoError(t, err)
	assert.InDelta(t, 0.15, g.IV, 1e-3)
	assert.Less(t, g.Delta, 0.0)
	assert.Greater(t, g.Gamma, 0.0)
}

func TestYearsToExpiry(t *testing.T) {
	now := time.Date(2026, 10, 16, 15, 30, 0, 0, time.UTC)
	assert.InDelta(t, 1.0/365, YearsToExpiry(now, now.Add(24*time.Hour)), 1e-12)
	assert.InDelta(t, 1.0/minutesPerYear, YearsToExpiry(now, now.Add(-time.Hour)), 1e-15)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Call, KindOf("CE"))
	assert.Equal(t, Put, KindOf("PE"))
}
