// Package greeks prices European index options with Black-Scholes.
package greeks

import (
	"errors"
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// Kind is call or put.
type Kind int

const (
	Call Kind = iota
	Put
)

// KindOf maps an option type such as "CE" or "PE" to a Kind.
func KindOf(optionType string) Kind {
	if optionType == "PE" || optionType == "P" {
		return Put
	}
	return Call
}

// Implied volatility search bounds.
const (
	MinVol = 0.01
	MaxVol = 3.0
)

// ErrInvalidPrice is returned by ImpliedVol for a non-positive premium.
var ErrInvalidPrice = errors.New("greeks: option price must be positive")

var norm = distuv.UnitNormal

const minutesPerYear = 365 * 24 * 60

// YearsToExpiry returns the time between now and expiry in years, never
// less than one minute so a contract on its last minute still has a value.
func YearsToExpiry(now, expiry time.Time) float64 {
	years := expiry.Sub(now).Minutes() / minutesPerYear
	return math.Max(years, 1.0/minutesPerYear)
}

func d1d2(spot, strike, t, r, sigma float64) (float64, float64) {
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (r+sigma*sigma/2)*t) / (sigma * sqrtT)
	return d1, d1 - sigma*sqrtT
}

func intrinsic(kind Kind, spot, strike float64) float64 {
	if kind == Put {
		return math.Max(strike-spot, 0)
	}
	return math.Max(spot-strike, 0)
}

// Price returns the Black-Scholes premium. t is in years.
func Price(kind Kind, spot, strike, t, r, sigma float64) float64 {
	if t <= 0 || sigma <= 0 {
		return intrinsic(kind, spot, strike)
	}
	d1, d2 := d1d2(spot, strike, t, r, sigma)
	df := math.Exp(-r * t)
	if kind == Put {
		return strike*df*norm.CDF(-d2) - spot*norm.CDF(-d1)
	}
	return spot*norm.CDF(d1) - strike*df*norm.CDF(d2)
}

// Delta returns the option delta: 0..1 for calls, -1..0 for puts.
func Delta(kind Kind, spot, strike, t, r, sigma float64) float64 {
	if t <= 0 || sigma <= 0 {
		itm := intrinsic(kind, spot, strike) > 0
		switch {
		case !itm:
			return 0
		case kind == Put:
			return -1
		default:
			return 1
		}
	}
	d1, _ := d1d2(spot, strike, t, r, sigma)
	if kind == Put {
		return norm.CDF(d1) - 1
	}
	return norm.CDF(d1)
}

// Gamma returns the option gamma, the same for calls and puts.
func Gamma(spot, strike, t, r, sigma float64) float64 {
	if t <= 0 || sigma <= 0 || spot <= 0 {
		return 0
	}
	d1, _ := d1d2(spot, strike, t, r, sigma)
	return norm.Prob(d1) / (spot * sigma * math.Sqrt(t))
}

// ImpliedVol finds the volatility that prices the option at price by
// bisection within [MinVol, MaxVol]. Prices outside the range of the bounds
// are clamped to the nearest bound.
func ImpliedVol(kind Kind, price, spot, strike, t, r float64) (float64, error) {
	if price <= 0 {
		return 0, ErrInvalidPrice
	}
	lo, hi := MinVol, MaxVol
	if price <= Price(kind, spot, strike, t, r, lo) {
		return lo, nil
	}
	if price >= Price(kind, spot, strike, t, r, hi) {
		return hi, nil
	}
	for i := 0; i < 100; i++ {
		mid := (lo + hi) / 2
		p := Price(kind, spot, strike, t, r, mid)
		if math.Abs(p-price) < 1e-4 {
			return mid, nil
		}
		if p < price {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2, nil
}

// Greeks bundles the values the strategy reads for one contract.
type Greeks struct {
	IV    float64 `json:"iv"`
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
}

// FromPrice derives IV from the market premium, then delta and gamma.
func FromPrice(kind Kind, price, spot, strike, t, r float64) (Greeks, error) {
	iv, err := ImpliedVol(kind, price, spot, strike, t, r)
	if err != nil {
		return Greeks{}, err
	}
	return Greeks{
		IV:    iv,
		Delta: Delta(kind, spot, strike, t, r, iv),
		Gamma: Gamma(spot, strike, t, r, iv),
	}, nil
}
