package dashboard

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nifty-paper-terminal/internal/config"
	"nifty-paper-terminal/internal/fyers"
	"nifty-paper-terminal/internal/trader"
)

type resetRequest struct {
	Confirm bool `json:"confirm"`
}

type entryRequest struct {
	StrategyType string `json:"strategy_type"`
}

type closeRequest struct {
	TradeID uint   `json:"trade_id"`
	All     bool   `json:"all"`
	Reason  string `json:"reason"`
}

// requireEngine writes 409 and returns nil until the strategy is initialised.
func (s *Server) requireEngine(c *gin.Context) *trader.Engine {
	e := s.currentEngine()
	if e == nil {
		fail(c, trader.ErrNotInitialised)
	}
	return e
}

func (s *Server) initStrategy(c *gin.Context) {
	creds, err := s.profile()
	if err != nil {
		fail(c, err)
		return
	}

	engine, err := trader.NewEngine(s.logger, s.cfg, s.marketClient(creds), s.store, s.notifier)
	if err != nil {
		fail(c, err)
		return
	}
	engine.WithMetrics(s.metrics)
	if err := engine.SetParams(s.defaultParams()); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := engine.Initialize(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}

	s.mu.Lock()
	old := s.engine
	s.engine = engine
	s.mu.Unlock()
	if old != nil {
		old.Stop()
	}

	placeholder := creds.AccessToken == ""
	if placeholder {
		s.logger.Warn("Strategy initialised without a broker token, market calls will fail",
			zap.String("token", fyers.PlaceholderToken))
	}
	s.logger.Info("Strategy initialised", zap.String("client_id", creds.ClientID))
	c.JSON(http.StatusOK, gin.H{
		"initialised": true,
		"placeholder": placeholder,
		"positions":   len(engine.Positions()),
	})
}

func (s *Server) startStrategy(c *gin.Context) {
	e := s.requireEngine(c)
	if e == nil {
		return
	}
	e.Start()
	c.JSON(http.StatusOK, gin.H{"running": true})
}

func (s *Server) stopStrategy(c *gin.Context) {
	e := s.requireEngine(c)
	if e == nil {
		return
	}
	e.Stop()
	c.JSON(http.StatusOK, gin.H{"running": false})
}

func (s *Server) resetDay(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Confirm {
		fail(c, fmt.Errorf(`%w: reset requires {"confirm": true}`, errBadRequest))
		return
	}
	e := s.requireEngine(c)
	if e == nil {
		return
	}
	pnl, err := e.ResetDay(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": true, "realized_pnl": pnl})
}

func (s *Server) entry(c *gin.Context) {
	var req entryRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
	}
	e := s.requireEngine(c)
	if e == nil {
		return
	}
	id, err := e.OpenPosition(c.Request.Context(), req.StrategyType)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trade_id": id})
}

func (s *Server) closeTrade(c *gin.Context) {
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if !req.All && req.TradeID == 0 {
		fail(c, fmt.Errorf("%w: trade_id or all is required", errBadRequest))
		return
	}
	if req.Reason == "" {
		req.Reason = trader.ReasonManual
	}
	e := s.requireEngine(c)
	if e == nil {
		return
	}

	var (
		pnl float64
		err error
	)
	if req.All {
		pnl, err = e.CloseAllPositions(c.Request.Context(), req.Reason)
	} else {
		pnl, err = e.ClosePosition(c.Request.Context(), req.TradeID, req.Reason)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": true, "realized_pnl": pnl})
}

// defaultParams are the limits a new engine starts with.
func (s *Server) defaultParams() trader.Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

func (s *Server) getParams(c *gin.Context) {
	p := s.defaultParams()
	if e := s.currentEngine(); e != nil {
		p = e.Params()
	}
	c.JSON(http.StatusOK, gin.H{
		"params":         p,
		"max_daily_loss": p.MaxDailyLoss(),
	})
}

// putParams updates the engine, or the defaults used by the next init.
func (s *Server) putParams(c *gin.Context) {
	var p trader.Params
	if err := c.ShouldBindJSON(&p); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := config.ValidateParams(p.Capital, p.RiskPct, p.MaxTradesPerDay, p.NumLots); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	if e := s.currentEngine(); e != nil {
		if err := e.SetParams(p); err != nil {
			fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
	}
	s.mu.Lock()
	s.params = p
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"params":         p,
		"max_daily_loss": p.MaxDailyLoss(),
	})
}

func (s *Server) margin(c *gin.Context) {
	e := s.requireEngine(c)
	if e == nil {
		return
	}
	est, err := e.MarginRequired(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, est)
}

func (s *Server) schedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"running": s.scheduler.Running(),
		"tasks":   s.scheduler.Tasks(),
	})
}
