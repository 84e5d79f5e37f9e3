package fyers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Quote is the subset of quote fields the terminal uses.
type Quote struct {
	Symbol    string  `json:"symbol"`
	LTP       float64 `json:"lp"`
	Open      float64 `json:"open_price"`
	High      float64 `json:"high_price"`
	Low       float64 `json:"low_price"`
	PrevClose float64 `json:"prev_close_price"`
	Volume    float64 `json:"volume"`
}

type quotesResponse struct {
	Envelope
	D []struct {
		N string `json:"n"`
		S string `json:"s"`
		V Quote  `json:"v"`
	} `json:"d"`
}

// Quotes fetches the latest quotes for the given symbols.
func (c *Client) Quotes(ctx context.Context, symbols ...string) (map[string]Quote, error) {
	if len(symbols) == 0 {
		return map[string]Quote{}, nil
	}
	req := c.authorized(c.data).
		SetQueryParam("symbols", strings.Join(symbols, ",")).
		SetResult(&quotesResponse{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/quotes", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get quotes: %w", err)
	}

	result := resp.Result().(*quotesResponse)
	out := make(map[string]Quote, len(result.D))
	for _, d := range result.D {
		if d.S != "" && d.S != "ok" {
			c.logger.Warn("Quote not available", zap.String("symbol", d.N), zap.String("status", d.S))
			continue
		}
		q := d.V
		q.Symbol = d.N
		out[d.N] = q
	}
	return out, nil
}

// Candle is one OHLCV bar.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

type historyResponse struct {
	Envelope
	Candles [][]float64 `json:"candles"`
}

// History fetches candles between from and to. resolution is in minutes
// ("1", "5", ...) or "D".
func (c *Client) History(ctx context.Context, symbol, resolution string, from, to time.Time) ([]Candle, error) {
	req := c.authorized(c.data).
		SetQueryParams(map[string]string{
			"symbol":      symbol,
			"resolution":  resolution,
			"date_format": "0",
			"range_from":  strconv.FormatInt(from.Unix(), 10),
			"range_to":    strconv.FormatInt(to.Unix(), 10),
			"cont_flag":   "1",
		}).
		SetResult(&historyResponse{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/history", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get history for %s: %w", symbol, err)
	}

	result := resp.Result().(*historyResponse)
	candles := make([]Candle, 0, len(result.Candles))
	for _, row := range result.Candles {
		if len(row) < 6 {
			continue
		}
		candles = append(candles, Candle{
			Time:   time.Unix(int64(row[0]), 0),
			Open:   row[1],
			High:   row[2],
			Low:    row[3],
			Close:  row[4],
			Volume: row[5],
		})
	}
	return candles, nil
}

// OptionContract is one row of the option chain.
type OptionContract struct {
	Symbol     string  `json:"symbol"`
	Strike     float64 `json:"strike_price"`
	OptionType string  `json:"option_type"`
	LTP        float64 `json:"ltp"`
	OI         float64 `json:"oi"`
	Volume     float64 `json:"volume"`
}

// ExpiryInfo identifies one listed expiry.
type ExpiryInfo struct {
	Date   string `json:"date"`   // DD-MM-YYYY
	Expiry string `json:"expiry"` // unix seconds as a string
}

// Time returns the expiry as a time in loc at 15:30.
func (e ExpiryInfo) Time(loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation("02-01-2006", e.Date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiry date %q: %w", e.Date, err)
	}
	return d.Add(15*time.Hour + 30*time.Minute), nil
}

// OptionChain is the chain around the money for a single expiry.
type OptionChain struct {
	Underlying float64          `json:"underlying"`
	Expiries   []ExpiryInfo     `json:"expiries"`
	Contracts  []OptionContract `json:"contracts"`
}

type optionChainResponse struct {
	Envelope
	Data struct {
		ExpiryData   []ExpiryInfo     `json:"expiryData"`
		OptionsChain []OptionContract `json:"optionsChain"`
	} `json:"data"`
}

// OptionChain fetches strikeCount strikes on each side of the money. A zero
// expiry selects the nearest one.
func (c *Client) OptionChain(ctx context.Context, symbol string, strikeCount int, expiry int64) (*OptionChain, error) {
	params := map[string]string{
		"symbol":      symbol,
		"strikecount": strconv.Itoa(strikeCount),
	}
	if expiry > 0 {
		params["timestamp"] = strconv.FormatInt(expiry, 10)
	}
	req := c.authorized(c.data).SetQueryParams(params).SetResult(&optionChainResponse{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/options-chain-v3", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get option chain for %s: %w", symbol, err)
	}

	result := resp.Result().(*optionChainResponse)
	chain := &OptionChain{Expiries: result.Data.ExpiryData}
	for _, oc := range result.Data.OptionsChain {
		// The underlying is listed as a row without an option type.
		if oc.OptionType == "" {
			chain.Underlying = oc.LTP
			continue
		}
		chain.Contracts = append(chain.Contracts, oc)
	}
	return chain, nil
}

// MarginLeg is one leg sent to the margin calculator. Side is 1 for buy and
// -1 for sell.
type MarginLeg struct {
	Symbol      string  `json:"symbol"`
	Qty         int     `json:"qty"`
	Side        int     `json:"side"`
	Type        int     `json:"type"`
	ProductType string  `json:"productType"`
	LimitPrice  float64 `json:"limitPrice"`
	StopLoss    float64 `json:"stopLoss"`
}

// MarginResult is the broker's margin computation for a basket.
type MarginResult struct {
	Available float64 `json:"margin_avail"`
	Total     float64 `json:"margin_total"`
	NewOrder  float64 `json:"margin_new_order"`
	Span      float64 `json:"span"`
	Exposure  float64 `json:"exposure"`
}

type marginResponse struct {
	Envelope
	Data MarginResult `json:"data"`
}

// Margin asks the broker for the margin of a multi-leg basket. It is a
// calculation only; nothing is ordered.
func (c *Client) Margin(ctx context.Context, legs []MarginLeg) (*MarginResult, error) {
	for i := range legs {
		if legs[i].Type == 0 {
			legs[i].Type = 2 // market
		}
		if legs[i].ProductType == "" {
			legs[i].ProductType = "MARGIN"
		}
	}
	req := c.authorized(c.api).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{"data": legs}).
		SetResult(&marginResponse{})

	resp, err := c.doRequest(ctx, http.MethodPost, "/multiorder/margin", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get margin: %w", err)
	}
	result := resp.Result().(*marginResponse)
	return &result.Data, nil
}
