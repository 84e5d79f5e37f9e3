package fyers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// AuthURL builds the broker login URL. After login the broker redirects the
// browser to redirectURI with auth_code and state appended.
func AuthURL(baseURL, clientID, redirectURI, state string) string {
	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("response_type", "code")
	q.Set("state", state)
	return strings.TrimRight(baseURL, "/") + "/generate-authcode?" + q.Encode()
}

// AuthURL builds the broker login URL for this client's app.
func (c *Client) AuthURL(redirectURI, state string) string {
	return AuthURL(c.api.BaseURL, c.clientID, redirectURI, state)
}

// ExtractAuthCode pulls the auth code out of the redirect URL the broker
// sends the browser to, e.g.
//
//	https://trade.fyers.in/?auth_code=<code>&state=<state>
//
// The code is the text between "auth_code=" and "&state". A bare code
// (no query syntax at all) is returned unchanged.
func ExtractAuthCode(redirect string) (string, error) {
	s := strings.TrimSpace(redirect)
	if s == "" {
		return "", ErrNoAuthCode
	}

	if _, after, ok := strings.Cut(s, "auth_code="); ok {
		code := after
		if before, _, found := strings.Cut(code, "&state"); found {
			code = before
		} else if before, _, found := strings.Cut(code, "&"); found {
			code = before
		}
		code = strings.TrimRight(code, "#")
		if code == "" {
			return "", ErrNoAuthCode
		}
		return code, nil
	}

	if strings.ContainsAny(s, "?=&") {
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoAuthCode, err)
		}
		if code := u.Query().Get("code"); code != "" {
			return code, nil
		}
		return "", ErrNoAuthCode
	}

	if strings.ContainsAny(s, " /:") {
		return "", ErrNoAuthCode
	}
	return s, nil
}

// ExtractState returns the state parameter of a redirect URL, if any.
func ExtractState(redirect string) string {
	u, err := url.Parse(strings.TrimSpace(redirect))
	if err != nil {
		return ""
	}
	return u.Query().Get("state")
}

// sha256Hex returns the lowercase hex sha256 of text.
func sha256Hex(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// AppIDHash is the appIdHash the token endpoint expects: sha256 of
// "<client_id>:<secret_key>".
func AppIDHash(clientID, secretKey string) string {
	return sha256Hex(clientID + ":" + secretKey)
}

type tokenResponse struct {
	Envelope
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// ExchangeAuthCode swaps a one-time auth code for a daily access token.
func (c *Client) ExchangeAuthCode(ctx context.Context, secretKey, authCode string) (string, error) {
	if strings.TrimSpace(authCode) == "" {
		return "", ErrNoAuthCode
	}
	payload := map[string]string{
		"grant_type": "authorization_code",
		"appIdHash":  AppIDHash(c.clientID, strings.TrimSpace(secretKey)),
		"code":       strings.TrimSpace(authCode),
	}
	req := c.api.R().
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		SetResult(&tokenResponse{})

	resp, err := c.doRequest(ctx, http.MethodPost, "/validate-authcode", req)
	if err != nil {
		return "", fmt.Errorf("failed to validate auth code: %w", err)
	}

	result := resp.Result().(*tokenResponse)
	if result.AccessToken == "" {
		return "", fmt.Errorf("failed to validate auth code: empty access token")
	}
	c.logger.Info("Access token obtained")
	return result.AccessToken, nil
}
