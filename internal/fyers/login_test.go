package fyers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTOTPSecret = "JBSWY3DPEHPK3PXP"

// fakeLogin emulates the broker's four login endpoints.
type fakeLogin struct {
	mu    sync.Mutex
	calls []string
	otp   string
}

func (f *fakeLogin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.calls = append(f.calls, r.URL.Path)
	f.mu.Unlock()

	switch r.URL.Path {
	case "/vagator/v2/send-login-otp":
		if body["fy_id"] != "XY12345" || body["app_id"] != "2" {
			writeJSON(w, http.StatusOK, map[string]any{"s": "error", "code": -1, "message": "bad user"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"s": "ok", "request_key": "rk1"})
	case "/vagator/v2/verify-otp":
		if body["request_key"] != "rk1" || (f.otp != "" && body["otp"] != f.otp) || len(body["otp"]) != 6 {
			writeJSON(w, http.StatusOK, map[string]any{"s": "error", "code": -2, "message": "invalid otp"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"s": "ok", "request_key": "rk2"})
	case "/vagator/v2/verify-pin":
		if body["request_key"] != "rk2" || body["identifier"] != sha256Hex("1234") || body["identity_type"] != "pin" {
			writeJSON(w, http.StatusOK, map[string]any{"s": "error", "code": -3, "message": "invalid pin"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"code": 200, "data": map[string]any{"authorization_code": "AUTH"}})
	case "/api/v3/validate-authcode":
		if body["code"] != "AUTH" {
			writeJSON(w, http.StatusOK, map[string]any{"s": "error", "code": -4, "message": "bad code"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"s": "ok", "access_token": "ACCESS"})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newLoginClient(t *testing.T, f *fakeLogin) *Client {
	c, server := setupTestServer(f)
	t.Cleanup(server.Close)
	c.clientID = "2-100"
	return c
}

func TestSendLoginOTP(t *testing.T) {
	c := newLoginClient(t, &fakeLogin{})

	rk, err := c.SendLoginOTP(context.Background(), " XY12345 ", "2-100")
	require.NoError(t, err)
	assert.Equal(t, "rk1", rk)

	_, err = c.SendLoginOTP(context.Background(), "NOBODY", "2-100")
	assert.ErrorIs(t, err, ErrLogin)
	assert.Contains(t, err.Error(), "bad user")
}

func TestVerifyPIN(t *testing.T) {
	c := newLoginClient(t, &fakeLogin{})

	code, err := c.VerifyPIN(context.Background(), "rk2", "1234")
	require.NoError(t, err)
	assert.Equal(t, "AUTH", code)

	_, err = c.VerifyPIN(context.Background(), "rk2", "9999")
	assert.ErrorIs(t, err, ErrLogin)
}

func TestTOTPCode(t *testing.T) {
	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	want, err := totp.GenerateCode(testTOTPSecret, at)
	require.NoError(t, err)

	got, err := TOTPCode(" jbsw y3dp ehpk 3pxp ", at)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Len(t, got, 6)

	_, err = TOTPCode("not base32 !!", at)
	assert.ErrorIs(t, err, ErrLogin)
}

func TestLoginFlow_SMS(t *testing.T) {
	f := &fakeLogin{otp: "123456"}
	flow := NewLoginFlow(newLoginClient(t, f), "secret")
	ctx := context.Background()

	_, err := flow.SubmitOTP(ctx, "123456")
	assert.ErrorIs(t, err, ErrLogin, "OTP before start")

	token, err := flow.Start(ctx, LoginRequest{FyID: "XY12345", PIN: "1234"})
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Equal(t, StepAwaitingOTP, flow.Step())

	_, err = flow.SubmitOTP(ctx, "")
	assert.ErrorIs(t, err, ErrLogin)
	assert.Equal(t, StepAwaitingOTP, flow.Step())

	token, err = flow.SubmitOTP(ctx, "123456")
	require.NoError(t, err)
	assert.Equal(t, "ACCESS", token)
	assert.Equal(t, StepCredentials, flow.Step())

	assert.Equal(t, []string{
		"/vagator/v2/send-login-otp",
		"/vagator/v2/verify-otp",
		"/vagator/v2/verify-pin",
		"/api/v3/validate-authcode",
	}, f.calls)
}

func TestLoginFlow_TOTP(t *testing.T) {
	flow := NewLoginFlow(newLoginClient(t, &fakeLogin{}), "secret")

	token, err := flow.Start(context.Background(), LoginRequest{FyID: "XY12345", PIN: "1234", TOTPSecret: testTOTPSecret})
	require.NoError(t, err)
	assert.Equal(t, "ACCESS", token)
	assert.Equal(t, StepCredentials, flow.Step())
}

func TestLoginFlow_MissingFields(t *testing.T) {
	flow := NewLoginFlow(newLoginClient(t, &fakeLogin{}), "secret")

	_, err := flow.Start(context.Background(), LoginRequest{FyID: "XY12345"})
	assert.ErrorIs(t, err, ErrLogin)
	assert.Equal(t, StepCredentials, flow.Step())
}

func TestLoginFlow_Reset(t *testing.T) {
	flow := NewLoginFlow(newLoginClient(t, &fakeLogin{}), "secret")

	_, err := flow.Start(context.Background(), LoginRequest{FyID: "XY12345", PIN: "1234"})
	require.NoError(t, err)
	require.Equal(t, StepAwaitingOTP, flow.Step())

	flow.Reset()
	assert.Equal(t, StepCredentials, flow.Step())
}
