package dashboard

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nifty-paper-terminal/internal/config"
	"nifty-paper-terminal/internal/credentials"
	"nifty-paper-terminal/internal/database"
	"nifty-paper-terminal/internal/fyers"
	"nifty-paper-terminal/internal/metrics"
	"nifty-paper-terminal/internal/notify"
	"nifty-paper-terminal/internal/scheduler"
	"nifty-paper-terminal/internal/trader"
)

//go:embed web/index.html
var indexHTML []byte

const stateTTL = 10 * time.Minute

// Deps are the long-lived services the dashboard drives.
type Deps struct {
	Config      *config.Config
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Store       *database.Store
	Credentials *credentials.Store
	Notifier    *notify.Telegram
	Scheduler   *scheduler.Scheduler
}

// Server is the paper terminal's web dashboard. It owns the strategy engine,
// which exists only after the user initialises it.
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	store     *database.Store
	creds     *credentials.Store
	notifier  *notify.Telegram
	scheduler *scheduler.Scheduler
	states    *fyers.StateSigner
	live      *LiveHub
	router    *gin.Engine
	server    *http.Server

	mu     sync.RWMutex
	engine *trader.Engine
	login  *fyers.LoginFlow
	params trader.Params
}

// NewServer builds the router and registers the trading-day jobs.
func NewServer(d Deps) (*Server, error) {
	if d.Config == nil || d.Store == nil || d.Credentials == nil || d.Notifier == nil || d.Scheduler == nil {
		return nil, errors.New("dashboard: missing dependency")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	states, err := fyers.NewStateSigner(d.Config.Server.StateSecret, stateTTL)
	if err != nil {
		return nil, err
	}
	loc, err := d.Config.Schedule.Location()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       d.Config,
		logger:    d.Logger.Named("dashboard"),
		metrics:   d.Metrics,
		store:     d.Store,
		creds:     d.Credentials,
		notifier:  d.Notifier,
		scheduler: d.Scheduler,
		states:    states,
		params: trader.Params{
			Capital:         d.Config.Trading.Capital,
			RiskPct:         d.Config.Trading.RiskPct,
			MaxTradesPerDay: d.Config.Trading.MaxTradesPerDay,
			NumLots:         d.Config.Trading.NumLots,
		},
	}
	s.live = NewLiveHub(s.logger, d.Metrics, s.liveView, time.Duration(d.Config.Server.LivePushSecs)*time.Second)

	if err := s.seedCredentials(); err != nil {
		return nil, err
	}

	jobs := scheduler.Jobs{
		Engine:   s.schedulerEngine,
		Notifier: d.Notifier,
		Schedule: d.Config.Schedule,
		Loc:      loc,

		MonitorEvery: time.Duration(d.Config.Trading.MonitorSeconds) * time.Second,
	}
	if err := jobs.Register(d.Scheduler); err != nil {
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	s.setupRoutes()
	return s, nil
}

// seedCredentials saves a profile from config or environment when none
// has been entered yet.
func (s *Server) seedCredentials() error {
	if s.cfg.Fyers.ClientID == "" {
		return nil
	}
	if _, err := s.creds.Get(); !errors.Is(err, credentials.ErrNotFound) {
		return err
	}
	c := credentials.Credentials{
		ClientID:       s.cfg.Fyers.ClientID,
		SecretKey:      s.cfg.Fyers.SecretKey,
		RedirectURL:    s.cfg.Fyers.RedirectURL,
		TelegramToken:  s.cfg.Telegram.BotToken,
		TelegramChatID: s.cfg.Telegram.ChatID,
		TelegramActive: s.notifier.Enabled(),
	}
	s.logger.Info("Profile loaded from configuration", zap.String("client_id", c.ClientID))
	if err := s.creds.Save(c); err != nil {
		return err
	}
	if s.cfg.Fyers.AccessToken == "" {
		return nil
	}
	if err := s.creds.SetAccessToken(s.cfg.Fyers.AccessToken, s.cfg.Fyers.TokenTTL()); err != nil {
		return err
	}
	return s.creds.SetStatus(true, c.TelegramActive)
}

func (s *Server) setupRoutes() {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(s.logger))
	router.Use(s.metrics.Middleware())

	router.GET("/", s.index)
	router.GET("/health", s.health)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	router.GET("/auth/callback", s.authCallback)
	router.GET("/ws/live", s.live.Serve)

	api := router.Group("/api")
	{
		api.GET("/profile", s.getProfile)
		api.PUT("/profile", s.putProfile)

		auth := api.Group("/auth")
		{
			auth.GET("/url", s.authURL)
			auth.POST("/exchange", s.exchange)
			auth.POST("/login", s.loginStart)
			auth.POST("/otp", s.loginOTP)
			auth.POST("/test", s.testToken)
		}

		api.POST("/telegram/test", s.testTelegram)

		strategy := api.Group("/strategy")
		{
			strategy.POST("/init", s.initStrategy)
			strategy.POST("/start", s.startStrategy)
			strategy.POST("/stop", s.stopStrategy)
			strategy.POST("/reset", s.resetDay)
			strategy.POST("/entry", s.entry)
			strategy.POST("/close", s.closeTrade)
		}

		api.GET("/params", s.getParams)
		api.PUT("/params", s.putParams)
		api.GET("/margin", s.margin)
		api.GET("/scheduler", s.schedulerStatus)

		api.GET("/live", s.liveSnapshot)
		api.GET("/positions", s.positions)
		api.GET("/trades", s.trades)
		api.GET("/trades.csv", s.tradesCSV)
		api.GET("/pnl/daily", s.dailyPnL)
		api.GET("/pnl/weekly", s.weeklyPnL)
		api.GET("/pnl/equity", s.equity)
	}

	s.router = router
}

// requestLogger logs one line per request at debug level.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the dashboard in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go s.live.Run(ctx)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Dashboard server failed", zap.Error(err))
		}
	}()
	s.logger.Info("Dashboard started", zap.String("addr", addr))
	return nil
}

// Stop shuts the HTTP server down and halts the engine.
func (s *Server) Stop(ctx context.Context) error {
	if e := s.currentEngine(); e != nil {
		e.Stop()
	}
	if s.server == nil {
		return nil
	}
	s.logger.Info("Stopping dashboard...")
	return s.server.Shutdown(ctx)
}

func (s *Server) currentEngine() *trader.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// schedulerEngine avoids handing the scheduler a typed nil.
func (s *Server) schedulerEngine() scheduler.Engine {
	if e := s.currentEngine(); e != nil {
		return e
	}
	return nil
}

// Engine returns the initialised strategy engine or nil.
func (s *Server) Engine() *trader.Engine {
	return s.currentEngine()
}

// marketClient builds a broker client with the current profile and token.
// Without a token it carries the placeholder and market calls fail.
func (s *Server) marketClient(c credentials.Credentials) *fyers.Client {
	token := c.AccessToken
	if token == "" {
		token = fyers.PlaceholderToken
	}
	return fyers.NewClient(s.cfg.Fyers, c.ClientID, token, s.logger).WithMetrics(s.metrics)
}

func (s *Server) index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (s *Server) health(c *gin.Context) {
	e := s.currentEngine()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"mode":        "PAPER",
		"initialised": e != nil,
		"running":     e != nil && e.Running(),
		"scheduler":   s.scheduler.Running(),
		"time":        time.Now(),
	})
}
