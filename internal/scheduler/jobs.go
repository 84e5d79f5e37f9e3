package scheduler

import (
	"context"
	"fmt"
	"time"

	"nifty-paper-terminal/internal/config"
	"nifty-paper-terminal/internal/notify"
	"nifty-paper-terminal/internal/trader"
)

// Job names.
const (
	JobMarketOpen  = "market_open"
	JobNoNewTrades = "no_new_trades"
	JobForceClose  = "force_close"
	JobEODReport   = "eod_report"
	JobMonitor     = "monitor"
)

// MonitorSpec fires every minute of the trading hours; the handler trims
// it to the session.
const MonitorSpec = "* 9-15 * * MON-FRI"

// Engine is the part of the trading engine the jobs drive.
type Engine interface {
	Start()
	Stop()
	CloseAllPositions(ctx context.Context, reason string) (float64, error)
	MonitorPositions(ctx context.Context) error
	GenerateEODSummary(ctx context.Context) (notify.EODReport, error)
}

var _ Engine = (*trader.Engine)(nil)

// Jobs wires the trading day onto a scheduler. Engine returns nil until
// the strategy has been initialised.
type Jobs struct {
	Engine   func() Engine
	Notifier notify.Notifier
	Schedule config.Schedule
	Loc      *time.Location
	Now      func() time.Time

	// MonitorEvery overrides the once-a-minute monitor cadence.
	MonitorEvery time.Duration
}

func (j Jobs) engine() (Engine, error) {
	if j.Engine == nil {
		return nil, fmt.Errorf("%w: %w", ErrSkipped, trader.ErrNotInitialised)
	}
	e := j.Engine()
	if e == nil {
		return nil, fmt.Errorf("%w: %w", ErrSkipped, trader.ErrNotInitialised)
	}
	return e, nil
}

func (j Jobs) now() time.Time {
	if j.Now != nil {
		return j.Now().In(j.Loc)
	}
	return time.Now().In(j.Loc)
}

// inSession reports whether t is a weekday between market open and close.
func (j Jobs) inSession(t time.Time) bool {
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	oh, om, err := config.ParseClock(j.Schedule.MarketOpen)
	if err != nil {
		return false
	}
	ch, cm, err := config.ParseClock(j.Schedule.MarketClose)
	if err != nil {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	return minute >= oh*60+om && minute < ch*60+cm
}

func (j Jobs) marketOpen(ctx context.Context) error {
	e, err := j.engine()
	if err != nil {
		return err
	}
	e.Start()
	return nil
}

func (j Jobs) noNewTrades(ctx context.Context) error {
	e, err := j.engine()
	if err != nil {
		return err
	}
	e.Stop()
	return nil
}

func (j Jobs) forceClose(ctx context.Context) error {
	e, err := j.engine()
	if err != nil {
		return err
	}
	_, err = e.CloseAllPositions(ctx, trader.ReasonForceClose)
	return err
}

func (j Jobs) eodReport(ctx context.Context) error {
	e, err := j.engine()
	if err != nil {
		return err
	}
	report, err := e.GenerateEODSummary(ctx)
	if err != nil {
		return err
	}
	if j.Notifier == nil {
		return nil
	}
	return j.Notifier.SendEODReport(ctx, report)
}

func (j Jobs) monitor(ctx context.Context) error {
	if !j.inSession(j.now()) {
		return ErrSkipped
	}
	e, err := j.engine()
	if err != nil {
		return err
	}
	return e.MonitorPositions(ctx)
}

// Register adds the five trading-day jobs to s.
func (j Jobs) Register(s *Scheduler) error {
	daily := []struct {
		name    string
		at      string
		handler Handler
	}{
		{JobMarketOpen, j.Schedule.StrategyStart, j.marketOpen},
		{JobNoNewTrades, j.Schedule.NoNewTrades, j.noNewTrades},
		{JobForceClose, j.Schedule.ForceClose, j.forceClose},
		{JobEODReport, j.Schedule.EODReport, j.eodReport},
	}
	for _, d := range daily {
		spec, err := DailySpec(d.at)
		if err != nil {
			return fmt.Errorf("job %s: %w", d.name, err)
		}
		if err := s.Add(d.name, spec, d.handler); err != nil {
			return err
		}
	}
	spec := MonitorSpec
	if j.MonitorEvery > 0 {
		spec = "@every " + j.MonitorEvery.String()
	}
	return s.Add(JobMonitor, spec, j.monitor)
}
