package fyers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
)

// ErrLogin wraps every failure of the headless login steps.
var ErrLogin = errors.New("fyers: login failed")

type loginResponse struct {
	Envelope
	RequestKey        string `json:"request_key"`
	AuthorizationCode string `json:"authorization_code"`
	Data              struct {
		AuthorizationCode string `json:"authorization_code"`
	} `json:"data"`
}

func (c *Client) loginStep(ctx context.Context, step, path string, payload any) (*loginResponse, error) {
	req := c.login.R().
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		SetResult(&loginResponse{})

	resp, err := c.doRequest(ctx, http.MethodPost, path, req)
	if err != nil {
		c.logger.Error("Login step failed", zap.String("step", step), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", ErrLogin, step, err)
	}
	return resp.Result().(*loginResponse), nil
}

// SendLoginOTP starts a login for fyID and asks the broker to send an OTP.
// appID may be a full app id ("XY12345-100"); only the part before the dash
// is sent. It returns the request key for the next step.
func (c *Client) SendLoginOTP(ctx context.Context, fyID, appID string) (string, error) {
	appID, _, _ = strings.Cut(strings.TrimSpace(appID), "-")
	payload := map[string]string{
		"fy_id":  strings.TrimSpace(fyID),
		"app_id": appID,
	}
	result, err := c.loginStep(ctx, "send-login-otp", "/send-login-otp", payload)
	if err != nil {
		return "", err
	}
	return result.RequestKey, nil
}

// VerifyOTP submits the OTP the user received and returns the next request key.
func (c *Client) VerifyOTP(ctx context.Context, requestKey, otp string) (string, error) {
	payload := map[string]string{
		"request_key": requestKey,
		"otp":         strings.TrimSpace(otp),
	}
	result, err := c.loginStep(ctx, "verify-otp", "/verify-otp", payload)
	if err != nil {
		return "", err
	}
	if result.RequestKey == "" {
		return requestKey, nil
	}
	return result.RequestKey, nil
}

// TOTPCode generates the current authenticator code for a base32 secret.
// Spaces in the secret are ignored.
func TOTPCode(secret string, at time.Time) (string, error) {
	secret = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	code, err := totp.GenerateCode(secret, at)
	if err != nil {
		return "", fmt.Errorf("%w: totp: %w", ErrLogin, err)
	}
	return code, nil
}

// VerifyTOTP is VerifyOTP with a code generated from an authenticator secret.
func (c *Client) VerifyTOTP(ctx context.Context, requestKey, secret string) (string, error) {
	code, err := TOTPCode(secret, time.Now())
	if err != nil {
		return "", err
	}
	return c.VerifyOTP(ctx, requestKey, code)
}

// VerifyPIN submits the sha256 of the trading PIN and returns the auth code.
func (c *Client) VerifyPIN(ctx context.Context, requestKey, pin string) (string, error) {
	payload := map[string]string{
		"request_key":   requestKey,
		"identity_type": "pin",
		"identifier":    sha256Hex(strings.TrimSpace(pin)),
	}
	result, err := c.loginStep(ctx, "verify-pin", "/verify-pin", payload)
	if err != nil {
		return "", err
	}
	code := result.Data.AuthorizationCode
	if code == "" {
		code = result.AuthorizationCode
	}
	if code == "" {
		return "", fmt.Errorf("%w: verify-pin: no authorization code", ErrLogin)
	}
	return code, nil
}

// LoginRequest carries what the user types into the login form.
type LoginRequest struct {
	FyID       string `json:"fy_id"`
	PIN        string `json:"pin"`
	TOTPSecret string `json:"totp_secret"`
}

// LoginStep is the position of a LoginFlow.
type LoginStep int

const (
	StepCredentials LoginStep = 1
	StepAwaitingOTP LoginStep = 2
)

// LoginFlow drives the headless login across the two user interactions of
// the SMS variant: credentials first, OTP second. With a TOTP secret the
// whole flow completes in Start.
type LoginFlow struct {
	client    *Client
	secretKey string

	mu         sync.Mutex
	step       LoginStep
	requestKey string
	pin        string
}

// NewLoginFlow creates a flow for the app of client.
func NewLoginFlow(client *Client, secretKey string) *LoginFlow {
	return &LoginFlow{client: client, secretKey: secretKey, step: StepCredentials}
}

// Step reports where the flow is.
func (f *LoginFlow) Step() LoginStep {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// Start begins the login. It returns the access token when a TOTP secret is
// given; otherwise it sends the OTP and returns an empty token.
func (f *LoginFlow) Start(ctx context.Context, req LoginRequest) (string, error) {
	if strings.TrimSpace(req.FyID) == "" || strings.TrimSpace(req.PIN) == "" {
		return "", fmt.Errorf("%w: user id and PIN are required", ErrLogin)
	}

	requestKey, err := f.client.SendLoginOTP(ctx, req.FyID, f.client.ClientID())
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(req.TOTPSecret) == "" {
		f.mu.Lock()
		f.step = StepAwaitingOTP
		f.requestKey = requestKey
		f.pin = strings.TrimSpace(req.PIN)
		f.mu.Unlock()
		return "", nil
	}

	rk, err := f.client.VerifyTOTP(ctx, requestKey, req.TOTPSecret)
	if err != nil {
		return "", err
	}
	return f.finish(ctx, rk, req.PIN)
}

// SubmitOTP completes an SMS login started with Start.
func (f *LoginFlow) SubmitOTP(ctx context.Context, otp string) (string, error) {
	f.mu.Lock()
	step, requestKey, pin := f.step, f.requestKey, f.pin
	f.mu.Unlock()

	if step != StepAwaitingOTP {
		return "", fmt.Errorf("%w: no OTP has been requested", ErrLogin)
	}
	if strings.TrimSpace(otp) == "" {
		return "", fmt.Errorf("%w: enter the OTP", ErrLogin)
	}

	rk, err := f.client.VerifyOTP(ctx, requestKey, otp)
	if err != nil {
		return "", err
	}
	return f.finish(ctx, rk, pin)
}

// Reset returns the flow to the credentials step.
func (f *LoginFlow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.step = StepCredentials
	f.requestKey = ""
	f.pin = ""
}

func (f *LoginFlow) finish(ctx context.Context, requestKey, pin string) (string, error) {
	authCode, err := f.client.VerifyPIN(ctx, requestKey, pin)
	if err != nil {
		return "", err
	}
	token, err := f.client.ExchangeAuthCode(ctx, f.secretKey, authCode)
	if err != nil {
		return "", err
	}
	f.Reset()
	return token, nil
}
