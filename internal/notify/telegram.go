// Package notify sends trade alerts to a Telegram chat.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"nifty-paper-terminal/internal/config"
	"nifty-paper-terminal/internal/metrics"
	"nifty-paper-terminal/internal/models"

	"github.com/go-telegram/bot"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

// ErrDisabled is returned by Test when no bot token or chat id is configured.
var ErrDisabled = errors.New("notify: telegram is not configured")

const (
	prefix      = "[PAPER] "
	maxAttempts = 3
)

// Notifier is what the engine and scheduler alert through.
type Notifier interface {
	Send(ctx context.Context, text string) error
	TradeOpened(ctx context.Context, trade *models.Trade) error
	TradeClosed(ctx context.Context, trade *models.Trade) error
	Adjusted(ctx context.Context, trade *models.Trade, adj *models.Adjustment) error
	SendEODReport(ctx context.Context, report EODReport) error
}

// Telegram sends messages through the Bot API. A Telegram without a token
// or chat id is disabled and drops messages.
type Telegram struct {
	logger    *zap.Logger
	metrics   *metrics.Metrics
	serverURL string
	minWait   time.Duration
	maxWait   time.Duration

	mu     sync.RWMutex
	bot    *bot.Bot
	chatID string
}

var _ Notifier = (*Telegram)(nil)

// NewTelegram creates a notifier from cfg. Empty credentials give a
// disabled notifier, not an error.
func NewTelegram(cfg config.Telegram, logger *zap.Logger) (*Telegram, error) {
	t := &Telegram{
		logger:    logger.Named("telegram"),
		serverURL: cfg.ServerURL,
		minWait:   500 * time.Millisecond,
		maxWait:   5 * time.Second,
	}
	if err := t.Configure(cfg.BotToken, cfg.ChatID); err != nil {
		return nil, err
	}
	return t, nil
}

// WithMetrics attaches a metrics recorder.
func (t *Telegram) WithMetrics(m *metrics.Metrics) *Telegram {
	t.metrics = m
	return t
}

// Configure swaps the bot credentials. Empty values disable the notifier.
func (t *Telegram) Configure(token, chatID string) error {
	token, chatID = strings.TrimSpace(token), strings.TrimSpace(chatID)

	var b *bot.Bot
	if token != "" && chatID != "" {
		opts := []bot.Option{bot.WithSkipGetMe()}
		if t.serverURL != "" {
			opts = append(opts, bot.WithServerURL(t.serverURL))
		}
		var err error
		b, err = bot.New(token, opts...)
		if err != nil {
			return fmt.Errorf("failed to create telegram bot: %w", err)
		}
	}

	t.mu.Lock()
	t.bot, t.chatID = b, chatID
	t.mu.Unlock()
	return nil
}

// Enabled reports whether messages are delivered.
func (t *Telegram) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bot != nil
}

// Test sends a connection test message.
func (t *Telegram) Test(ctx context.Context) error {
	if !t.Enabled() {
		return ErrDisabled
	}
	return t.send(ctx, "Telegram alerts connected. NIFTY paper terminal is online.")
}

// Send delivers text, prefixed with the paper-mode tag. It is a no-op when
// the notifier is disabled.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if !t.Enabled() {
		t.logger.Debug("Telegram disabled, message dropped")
		t.metrics.Notification("skipped")
		return nil
	}
	return t.send(ctx, text)
}

func (t *Telegram) send(ctx context.Context, text string) error {
	t.mu.RLock()
	b, chatID := t.bot, t.chatID
	t.mu.RUnlock()

	params := &bot.SendMessageParams{ChatID: chatID, Text: prefix + text}
	wait := &backoff.Backoff{Min: t.minWait, Max: t.maxWait, Factor: 2, Jitter: true}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if _, err = b.SendMessage(ctx, params); err == nil {
			t.metrics.Notification("sent")
			return nil
		}
		if !retryable(err) || attempt == maxAttempts {
			break
		}
		d := wait.Duration()
		t.logger.Warn("Telegram send failed, retrying...",
			zap.Int("attempt", attempt),
			zap.Duration("retry_after", d),
			zap.Error(err),
		)
		select {
		case <-time.After(d):
		case <-ctx.Done():
			t.metrics.Notification("failed")
			return ctx.Err()
		}
	}

	t.metrics.Notification("failed")
	t.logger.Error("Telegram send failed", zap.Error(err))
	return fmt.Errorf("failed to send telegram message: %w", err)
}

// retryable reports whether a send error may succeed on a second attempt.
// Credential and chat errors never will.
func retryable(err error) bool {
	return !errors.Is(err, bot.ErrorBadRequest) &&
		!errors.Is(err, bot.ErrorUnauthorized) &&
		!errors.Is(err, bot.ErrorForbidden) &&
		!errors.Is(err, context.Canceled)
}

// TradeOpened alerts a new paper trade.
func (t *Telegram) TradeOpened(ctx context.Context, trade *models.Trade) error {
	return t.Send(ctx, TradeOpenedMessage(trade))
}

// TradeClosed alerts a closed paper trade.
func (t *Telegram) TradeClosed(ctx context.Context, trade *models.Trade) error {
	return t.Send(ctx, TradeClosedMessage(trade))
}

// Adjusted alerts a gamma defence action.
func (t *Telegram) Adjusted(ctx context.Context, trade *models.Trade, adj *models.Adjustment) error {
	return t.Send(ctx, AdjustmentMessage(trade, adj))
}

// SendEODReport sends the end-of-day summary.
func (t *Telegram) SendEODReport(ctx context.Context, report EODReport) error {
	return t.Send(ctx, EODMessage(report))
}
