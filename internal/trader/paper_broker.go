package trader

import (
	"errors"
	"fmt"
	"time"

	"nifty-paper-terminal/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNoPrice is returned when a fill is requested without a market price.
var ErrNoPrice = errors.New("trader: no market price to fill at")

// Fill is a simulated execution.
type Fill struct {
	Symbol   string
	Side     string
	Quantity int
	Price    float64
	At       time.Time
}

// PaperBroker simulates order execution at the last traded price rounded to
// the exchange tick. It has no route to the broker's order API.
type PaperBroker struct {
	tick   decimal.Decimal
	now    func() time.Time
	logger *zap.Logger
}

// NewPaperBroker creates a broker filling on ticks of tickSize.
func NewPaperBroker(tickSize float64, logger *zap.Logger) *PaperBroker {
	if tickSize <= 0 {
		tickSize = 0.05
	}
	return &PaperBroker{
		tick:   decimal.NewFromFloat(tickSize),
		now:    time.Now,
		logger: logger.Named("paper-broker"),
	}
}

// RoundToTick rounds price to the nearest tick.
func (b *PaperBroker) RoundToTick(price float64) float64 {
	d := decimal.NewFromFloat(price).Div(b.tick).Round(0).Mul(b.tick)
	f, _ := d.Float64()
	return f
}

// Fill simulates an order for qty of symbol at ltp.
func (b *PaperBroker) Fill(symbol, side string, qty int, ltp float64) (Fill, error) {
	if ltp <= 0 {
		return Fill{}, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	if side != models.SideBuy && side != models.SideSell {
		return Fill{}, fmt.Errorf("invalid side %q", side)
	}
	f := Fill{
		Symbol:   symbol,
		Side:     side,
		Quantity: qty,
		Price:    b.RoundToTick(ltp),
		At:       b.now(),
	}
	b.logger.Info("[PAPER] Order filled",
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.Int("quantity", qty),
		zap.Float64("price", f.Price),
	)
	return f, nil
}
