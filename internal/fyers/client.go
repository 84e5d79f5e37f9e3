package fyers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nifty-paper-terminal/internal/config"
	"nifty-paper-terminal/internal/metrics"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// PlaceholderToken lets the paper engine start before a real login.
	// Market calls made with it fail with ErrTokenExpired.
	PlaceholderToken = "PAPER_DUMMY_TOKEN"

	maxRetries = 3
)

var (
	// ErrTokenExpired is returned when the broker rejects the access token.
	ErrTokenExpired = errors.New("fyers: access token expired or invalid")
	// ErrNoAuthCode is returned when no auth code can be found in a redirect.
	ErrNoAuthCode = errors.New("fyers: no auth_code in redirect")
)

// token error codes reported by the broker in the response envelope.
var tokenErrorCodes = map[int]bool{-8: true, -15: true, -16: true, -17: true}

// Envelope is the status block every Fyers response carries.
type Envelope struct {
	S       string `json:"s"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// OK reports whether the broker accepted the request.
func (e Envelope) OK() bool {
	return e.S == "ok" || e.Code == 200
}

// Err converts a rejected envelope into an error.
func (e Envelope) Err() error {
	if e.OK() {
		return nil
	}
	if tokenErrorCodes[e.Code] {
		return fmt.Errorf("%w: %s", ErrTokenExpired, e.Message)
	}
	return &APIError{Code: e.Code, Message: e.Message}
}

type enveloped interface {
	Err() error
}

// APIError is a non-retryable error reported by the broker.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fyers: status %d code %d: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("fyers: code %d: %s", e.Code, e.Message)
}

// ClientInterface defines the broker operations the terminal depends on.
// There is deliberately no order placement: every fill is simulated.
type ClientInterface interface {
	Profile(ctx context.Context) (*Profile, error)
	ValidateToken(ctx context.Context) (bool, error)
	Quotes(ctx context.Context, symbols ...string) (map[string]Quote, error)
	History(ctx context.Context, symbol, resolution string, from, to time.Time) ([]Candle, error)
	OptionChain(ctx context.Context, symbol string, strikeCount int, expiry int64) (*OptionChain, error)
	Margin(ctx context.Context, legs []MarginLeg) (*MarginResult, error)
}

// Client is a client for the Fyers v3 REST API.
// It implements the ClientInterface.
type Client struct {
	api         *resty.Client
	data        *resty.Client
	login       *resty.Client
	clientID    string
	accessToken string
	logger      *zap.Logger
	limiter     *rate.Limiter
	metrics     *metrics.Metrics
	retryBase   time.Duration
}

// ensure Client implements the interface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a new Fyers REST API client. accessToken may be empty
// for the login and token exchange calls.
func NewClient(cfg config.Fyers, clientID, accessToken string, logger *zap.Logger) *Client {
	newResty := func(base string) *resty.Client {
		c := resty.New().SetBaseURL(base).SetHeader("User-Agent", "nifty-paper-terminal")
		if cfg.TimeoutSeconds > 0 {
			c.SetTimeout(cfg.Timeout())
		}
		return c
	}

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &Client{
		api:         newResty(cfg.BaseURL),
		data:        newResty(cfg.DataURL),
		login:       newResty(cfg.LoginURL),
		clientID:    strings.TrimSpace(clientID),
		accessToken: strings.TrimSpace(accessToken),
		logger:      logger.Named("fyers"),
		limiter:     limiter,
		retryBase:   time.Second,
	}
}

// WithMetrics attaches a metrics recorder.
func (c *Client) WithMetrics(m *metrics.Metrics) *Client {
	c.metrics = m
	return c
}

// ClientID returns the app id the client authenticates as.
func (c *Client) ClientID() string {
	return c.clientID
}

// authorized builds a request carrying the "<client_id>:<access_token>" header.
func (c *Client) authorized(rc *resty.Client) *resty.Request {
	return rc.R().SetHeader("Authorization", c.clientID+":"+c.accessToken)
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *Client) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error

	req.SetContext(ctx)
	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			if env, ok := resp.Result().(enveloped); ok {
				if apiErr := env.Err(); apiErr != nil {
					c.metrics.BrokerRequest(url, "rejected")
					return nil, apiErr
				}
			}
			c.metrics.BrokerRequest(url, "ok")
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == http.StatusTeapot { // HTTP 429 or 418
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			shouldRetry = true
		}

		if !shouldRetry {
			c.metrics.BrokerRequest(url, "error")
			return nil, statusError(resp)
		}

		if i == maxRetries-1 {
			break
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * c.retryBase
		}

		c.logger.Warn("Request failed, retrying...",
			zap.String("url", url),
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.metrics.BrokerRequest(url, "error")
	if err == nil && resp != nil {
		err = statusError(resp)
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// statusError turns a non-2xx response into an error, preferring the
// broker's own message when the body carries an envelope.
func statusError(resp *resty.Response) error {
	var env Envelope
	_ = json.Unmarshal(resp.Body(), &env)
	if resp.StatusCode() == http.StatusUnauthorized || tokenErrorCodes[env.Code] {
		return fmt.Errorf("%w: %s", ErrTokenExpired, env.Message)
	}
	msg := env.Message
	if msg == "" {
		msg = resp.String()
	}
	return &APIError{Status: resp.StatusCode(), Code: env.Code, Message: msg}
}

// Profile is the account profile returned by /profile.
type Profile struct {
	FyID  string `json:"fy_id"`
	Name  string `json:"name"`
	Email string `json:"email_id"`
}

type profileResponse struct {
	Envelope
	Data Profile `json:"data"`
}

// Profile fetches the logged-in user's profile.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	req := c.authorized(c.api).SetResult(&profileResponse{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/profile", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	result := resp.Result().(*profileResponse)
	return &result.Data, nil
}

// ValidateToken checks the access token against /profile. An expired token
// is reported as (false, nil); transport failures are returned as errors.
func (c *Client) ValidateToken(ctx context.Context) (bool, error) {
	if c.accessToken == "" || c.accessToken == PlaceholderToken {
		return false, nil
	}
	if _, err := c.Profile(ctx); err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
