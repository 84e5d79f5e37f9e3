package indicators

import (
	"fmt"

	"nifty-paper-terminal/internal/fyers"

	"github.com/markcheno/go-talib"
)

// Direction is the trend reported by the supertrend.
type Direction string

const (
	Bullish Direction = "BULLISH"
	Bearish Direction = "BEARISH"
	Neutral Direction = "NEUTRAL"
)

// Supertrend holds the supertrend line and direction for every bar. Bars
// inside the ATR warmup are zero and Neutral.
type Supertrend struct {
	Period     int
	Multiplier float64
	Values     []float64
	Directions []Direction
}

// Name returns a label such as "Supertrend(10, 2.0)".
func (s Supertrend) Name() string {
	return fmt.Sprintf("Supertrend(%d, %.1f)", s.Period, s.Multiplier)
}

// Warmup is the number of bars needed before the first value.
func (s Supertrend) Warmup() int {
	return s.Period
}

// Direction returns the direction of the last bar.
func (s Supertrend) Direction() Direction {
	if len(s.Directions) == 0 {
		return Neutral
	}
	return s.Directions[len(s.Directions)-1]
}

// Value returns the supertrend line of the last bar.
func (s Supertrend) Value() float64 {
	if len(s.Values) == 0 {
		return 0
	}
	return s.Values[len(s.Values)-1]
}

// NewSupertrend computes the supertrend over candles using an ATR of
// period bars and the given band multiplier.
func NewSupertrend(candles []fyers.Candle, period int, multiplier float64) Supertrend {
	n := len(candles)
	st := Supertrend{
		Period:     period,
		Multiplier: multiplier,
		Values:     make([]float64, n),
		Directions: make([]Direction, n),
	}
	for i := range st.Directions {
		st.Directions[i] = Neutral
	}
	if period < 1 || n <= period {
		return st
	}

	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	for i, c := range candles {
		high[i], low[i], closes[i] = c.High, c.Low, c.Close
	}
	atr := talib.Atr(high, low, closes, period)

	var upper, lower float64
	up := true
	for i := period; i < n; i++ {
		mid := (high[i] + low[i]) / 2
		basicUpper := mid + multiplier*atr[i]
		basicLower := mid - multiplier*atr[i]

		if i == period {
			upper, lower = basicUpper, basicLower
			up = closes[i] >= mid
		} else {
			if basicUpper < upper || closes[i-1] > upper {
				upper = basicUpper
			}
			if basicLower > lower || closes[i-1] < lower {
				lower = basicLower
			}
			if up && closes[i] < lower {
				up = false
			} else if !up && closes[i] > upper {
				up = true
			}
		}

		if up {
			st.Values[i] = lower
			st.Directions[i] = Bullish
		} else {
			st.Values[i] = upper
			st.Directions[i] = Bearish
		}
	}
	return st
}
