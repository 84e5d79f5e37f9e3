package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // exchange timezone without a system zoneinfo

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Fyers    Fyers    `mapstructure:"fyers"`
	Telegram Telegram `mapstructure:"telegram"`
	Trading  Trading  `mapstructure:"trading"`
	Strategy Strategy `mapstructure:"strategy"`
	Schedule Schedule `mapstructure:"schedule"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Fyers holds the configuration for the Fyers API.
type Fyers struct {
	ClientID       string  `mapstructure:"client_id"`
	SecretKey      string  `mapstructure:"secret_key"`
	RedirectURL    string  `mapstructure:"redirect_url"`
	AccessToken    string  `mapstructure:"access_token"`
	BaseURL        string  `mapstructure:"base_url"`
	DataURL        string  `mapstructure:"data_url"`
	LoginURL       string  `mapstructure:"login_url"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	TokenTTLHours  int     `mapstructure:"token_ttl_hours"`
}

// Timeout returns the per-request timeout.
func (f Fyers) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// TokenTTL returns how long an access token is considered valid.
func (f Fyers) TokenTTL() time.Duration {
	return time.Duration(f.TokenTTLHours) * time.Hour
}

// Telegram holds the configuration for alerts.
type Telegram struct {
	BotToken  string `mapstructure:"bot_token"`
	ChatID    string `mapstructure:"chat_id"`
	ServerURL string `mapstructure:"server_url"`
}

// Trading holds the position sizing and risk configuration.
type Trading struct {
	Capital         float64 `mapstructure:"capital"`
	RiskPct         float64 `mapstructure:"risk_pct"`
	MaxTradesPerDay int     `mapstructure:"max_trades_day"`
	NumLots         int     `mapstructure:"num_lots"`
	LotSize         int     `mapstructure:"lot_size"`
	MaxAdjustments  int     `mapstructure:"max_adjustments"`
	StrikeStep      float64 `mapstructure:"strike_step"`
	TickSize        float64 `mapstructure:"tick_size"`
	IndexSymbol     string  `mapstructure:"index_symbol"`
	MonitorSeconds  int     `mapstructure:"monitor_seconds"`
	StrikeCount     int     `mapstructure:"strike_count"`
}

// Strategy holds the parameters of the gamma strangle.
type Strategy struct {
	SupertrendPeriod int     `mapstructure:"supertrend_period"`
	SupertrendMult   float64 `mapstructure:"supertrend_mult"`
	CandleResolution string  `mapstructure:"candle_resolution"`
	CEDeltaTarget    float64 `mapstructure:"ce_delta_target"`
	PEDeltaTarget    float64 `mapstructure:"pe_delta_target"`
	HedgeDeltaTarget float64 `mapstructure:"hedge_delta_target"`
	ExpiryOTMOffset  float64 `mapstructure:"expiry_otm_offset"`
	ExpiryEntryAfter string  `mapstructure:"expiry_entry_after"`
	GammaL1SpotMove  float64 `mapstructure:"gamma_l1_spot_move"`
	GammaL1Premium   float64 `mapstructure:"gamma_l1_premium_pct"`
	GammaL2Delta     float64 `mapstructure:"gamma_l2_delta_limit"`
	GammaL3SpotMove  float64 `mapstructure:"gamma_l3_spot_move"`
	GammaL3Minutes   int     `mapstructure:"gamma_l3_time_window"`
	ExpiryTargetPct  float64 `mapstructure:"expiry_target_pct"`
	ExpiryStopMult   float64 `mapstructure:"expiry_stop_mult"`
	RiskFreeRate     float64 `mapstructure:"risk_free_rate"`
}

// Schedule holds wall-clock times (HH:MM) in Timezone.
type Schedule struct {
	Timezone      string `mapstructure:"timezone"`
	MarketOpen    string `mapstructure:"market_open"`
	StrategyStart string `mapstructure:"strategy_start"`
	NoNewTrades   string `mapstructure:"no_new_trades"`
	ForceClose    string `mapstructure:"force_close"`
	EODReport     string `mapstructure:"eod_report"`
	MarketClose   string `mapstructure:"market_close"`
}

// Location loads the configured timezone.
func (s Schedule) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Server holds the configuration for the dashboard.
type Server struct {
	Port         int    `mapstructure:"port"`
	StateSecret  string `mapstructure:"state_secret"`
	CallbackAddr string `mapstructure:"callback_addr"`
	LivePushSecs int    `mapstructure:"live_push_seconds"`
}

// Database holds the configuration for the trade history database.
type Database struct {
	DSN          string `mapstructure:"dsn"`
	ResetOnStart bool   `mapstructure:"reset_on_start"`
}

// Parameter bounds accepted from the dashboard.
const (
	MinCapital   = 100_000
	MaxCapital   = 10_000_000
	MinRiskPct   = 0.5
	MaxRiskPct   = 5.0
	MinMaxTrades = 1
	MaxMaxTrades = 5
	MinLots      = 1
	MaxLots      = 50
)

// ValidateParams checks the user-adjustable trading parameters.
func ValidateParams(capital, riskPct float64, maxTrades, lots int) error {
	var errs []error
	if capital < MinCapital || capital > MaxCapital {
		errs = append(errs, fmt.Errorf("capital %.0f outside [%d, %d]", capital, MinCapital, MaxCapital))
	}
	if riskPct < MinRiskPct || riskPct > MaxRiskPct {
		errs = append(errs, fmt.Errorf("risk %.2f%% outside [%.1f, %.1f]", riskPct, MinRiskPct, MaxRiskPct))
	}
	if maxTrades < MinMaxTrades || maxTrades > MaxMaxTrades {
		errs = append(errs, fmt.Errorf("max trades %d outside [%d, %d]", maxTrades, MinMaxTrades, MaxMaxTrades))
	}
	if lots < MinLots || lots > MaxLots {
		errs = append(errs, fmt.Errorf("lots %d outside [%d, %d]", lots, MinLots, MaxLots))
	}
	return errors.Join(errs...)
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if err := ValidateParams(c.Trading.Capital, c.Trading.RiskPct, c.Trading.MaxTradesPerDay, c.Trading.NumLots); err != nil {
		return err
	}
	if c.Trading.LotSize <= 0 {
		return fmt.Errorf("lot size must be positive")
	}
	if _, err := c.Schedule.Location(); err != nil {
		return err
	}
	for name, hhmm := range map[string]string{
		"market_open":    c.Schedule.MarketOpen,
		"strategy_start": c.Schedule.StrategyStart,
		"no_new_trades":  c.Schedule.NoNewTrades,
		"force_close":    c.Schedule.ForceClose,
		"eod_report":     c.Schedule.EODReport,
		"market_close":   c.Schedule.MarketClose,
	} {
		if _, _, err := ParseClock(hhmm); err != nil {
			return fmt.Errorf("schedule.%s: %w", name, err)
		}
	}
	return nil
}

// ParseClock parses an HH:MM wall-clock time.
func ParseClock(hhmm string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q: %w", hhmm, err)
	}
	return t.Hour(), t.Minute(), nil
}

func setDefaults(v *viper.Viper) {
	// Empty defaults register the keys so AutomaticEnv can fill them on Unmarshal.
	for _, key := range []string{
		"fyers.client_id", "fyers.secret_key", "fyers.redirect_url", "fyers.access_token",
		"telegram.bot_token", "telegram.chat_id", "telegram.server_url",
		"server.state_secret",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("fyers.base_url", "https://api-t1.fyers.in/api/v3")
	v.SetDefault("fyers.data_url", "https://api-t1.fyers.in/data")
	v.SetDefault("fyers.login_url", "https://api-t2.fyers.in/vagator/v2")
	v.SetDefault("fyers.rate_limit", 10) // requests per second
	v.SetDefault("fyers.rate_limit_burst", 5)
	v.SetDefault("fyers.timeout_seconds", 15)
	v.SetDefault("fyers.token_ttl_hours", 24)

	v.SetDefault("trading.capital", 500_000)
	v.SetDefault("trading.risk_pct", 2.0)
	v.SetDefault("trading.max_trades_day", 2)
	v.SetDefault("trading.num_lots", 1)
	v.SetDefault("trading.lot_size", 65)
	v.SetDefault("trading.max_adjustments", 3)
	v.SetDefault("trading.strike_step", 50)
	v.SetDefault("trading.tick_size", 0.05)
	v.SetDefault("trading.index_symbol", "NSE:NIFTY50-INDEX")
	v.SetDefault("trading.monitor_seconds", 60)
	v.SetDefault("trading.strike_count", 15)

	v.SetDefault("strategy.supertrend_period", 10)
	v.SetDefault("strategy.supertrend_mult", 2.0)
	v.SetDefault("strategy.candle_resolution", "5")
	v.SetDefault("strategy.ce_delta_target", 0.22)
	v.SetDefault("strategy.pe_delta_target", -0.22)
	v.SetDefault("strategy.hedge_delta_target", 0.10)
	v.SetDefault("strategy.expiry_otm_offset", 100)
	v.SetDefault("strategy.expiry_entry_after", "09:45")
	v.SetDefault("strategy.gamma_l1_spot_move", 0.006)
	v.SetDefault("strategy.gamma_l1_premium_pct", 0.40)
	v.SetDefault("strategy.gamma_l2_delta_limit", 35)
	v.SetDefault("strategy.gamma_l3_spot_move", 0.012)
	v.SetDefault("strategy.gamma_l3_time_window", 45)
	v.SetDefault("strategy.expiry_target_pct", 0.30)
	v.SetDefault("strategy.expiry_stop_mult", 1.5)
	v.SetDefault("strategy.risk_free_rate", 0.065)

	v.SetDefault("schedule.timezone", "Asia/Kolkata")
	v.SetDefault("schedule.market_open", "09:15")
	v.SetDefault("schedule.strategy_start", "09:20")
	v.SetDefault("schedule.no_new_trades", "14:45")
	v.SetDefault("schedule.force_close", "15:10")
	v.SetDefault("schedule.eod_report", "15:20")
	v.SetDefault("schedule.market_close", "15:30")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.file", "terminal.log")
	v.SetDefault("logger.max_size_mb", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age_days", 7)

	v.SetDefault("server.port", 8501)
	v.SetDefault("server.callback_addr", "127.0.0.1:8085")
	v.SetDefault("server.live_push_seconds", 5)

	v.SetDefault("database.dsn", "paper_trading.db")
	v.SetDefault("database.reset_on_start", false)
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is not an error; defaults and the environment apply.
func LoadConfig(path string) (config Config, err error) {
	if err = godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("failed to decode config: %w", err)
	}
	err = config.Validate()
	return
}

// Default returns the configuration built from defaults only.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}
