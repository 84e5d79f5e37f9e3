package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the terminal's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	brokerRequests      *prometheus.CounterVec
	tradesOpened        *prometheus.CounterVec
	tradesClosed        *prometheus.CounterVec
	adjustments         *prometheus.CounterVec
	notifications       *prometheus.CounterVec
	schedulerRuns       *prometheus.CounterVec
	dailyPnL            prometheus.Gauge
	openTrades          prometheus.Gauge
	gammaRisk           prometheus.Gauge
	liveClients         prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terminal_http_requests_total",
				Help: "Total number of dashboard HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "terminal_http_request_duration_seconds",
				Help:    "Dashboard HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		brokerRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terminal_broker_requests_total",
				Help: "Broker API requests by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		tradesOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terminal_paper_trades_opened_total",
				Help: "Paper trades opened by strategy type",
			},
			[]string{"strategy_type"},
		),
		tradesClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terminal_paper_trades_closed_total",
				Help: "Paper trades closed by reason",
			},
			[]string{"reason"},
		),
		adjustments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terminal_gamma_adjustments_total",
				Help: "Gamma defence adjustments by level",
			},
			[]string{"level"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terminal_notifications_total",
				Help: "Outbound alerts by outcome",
			},
			[]string{"outcome"},
		),
		schedulerRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terminal_scheduler_runs_total",
				Help: "Scheduled job runs by job and status",
			},
			[]string{"job", "status"},
		),
		dailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "terminal_daily_pnl_rupees",
			Help: "Realised plus unrealised paper P&L for the current day",
		}),
		openTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "terminal_open_trades",
			Help: "Number of open paper trades",
		}),
		gammaRisk: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "terminal_gamma_risk_score",
			Help: "Gamma risk score from 0 to 100",
		}),
		liveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "terminal_live_clients",
			Help: "Connected live terminal websocket clients",
		}),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.brokerRequests,
		m.tradesOpened,
		m.tradesClosed,
		m.adjustments,
		m.notifications,
		m.schedulerRuns,
		m.dailyPnL,
		m.openTrades,
		m.gammaRisk,
		m.liveClients,
	)
	return m
}

// Registry exposes the registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// BrokerRequest counts one broker API call.
func (m *Metrics) BrokerRequest(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.brokerRequests.WithLabelValues(endpoint, outcome).Inc()
}

// TradeOpened counts a new paper trade.
func (m *Metrics) TradeOpened(strategyType string) {
	if m == nil {
		return
	}
	m.tradesOpened.WithLabelValues(strategyType).Inc()
}

// TradeClosed counts a closed paper trade.
func (m *Metrics) TradeClosed(reason string) {
	if m == nil {
		return
	}
	m.tradesClosed.WithLabelValues(reason).Inc()
}

// Adjustment counts a gamma defence action.
func (m *Metrics) Adjustment(level int) {
	if m == nil {
		return
	}
	m.adjustments.WithLabelValues("L" + strconv.Itoa(level)).Inc()
}

// Notification counts an outbound alert.
func (m *Metrics) Notification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

// SchedulerRun counts a scheduled job execution.
func (m *Metrics) SchedulerRun(job, status string) {
	if m == nil {
		return
	}
	m.schedulerRuns.WithLabelValues(job, status).Inc()
}

// Book updates the position gauges.
func (m *Metrics) Book(dailyPnL float64, openTrades int, gammaRisk float64) {
	if m == nil {
		return
	}
	m.dailyPnL.Set(dailyPnL)
	m.openTrades.Set(float64(openTrades))
	m.gammaRisk.Set(gammaRisk)
}

// LiveClients adjusts the websocket client gauge.
func (m *Metrics) LiveClients(delta float64) {
	if m == nil {
		return
	}
	m.liveClients.Add(delta)
}
