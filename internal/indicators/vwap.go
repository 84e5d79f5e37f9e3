package indicators

import (
	"time"

	"nifty-paper-terminal/internal/fyers"
)

// VWAP returns the volume weighted average of the typical price over the
// session of the last candle, taken as its calendar day in loc. Index
// candles carry no volume; then the mean close of the session is returned.
func VWAP(candles []fyers.Candle, loc *time.Location) float64 {
	if len(candles) == 0 {
		return 0
	}
	if loc == nil {
		loc = time.Local
	}
	y, m, d := candles[len(candles)-1].Time.In(loc).Date()

	var pv, vol, closes float64
	var count int
	for _, c := range candles {
		cy, cm, cd := c.Time.In(loc).Date()
		if cy != y || cm != m || cd != d {
			continue
		}
		typical := (c.High + c.Low + c.Close) / 3
		pv += typical * c.Volume
		vol += c.Volume
		closes += c.Close
		count++
	}
	if vol > 0 {
		return pv / vol
	}
	return closes / float64(count)
}
