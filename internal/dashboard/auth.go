package dashboard

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nifty-paper-terminal/internal/credentials"
	"nifty-paper-terminal/internal/fyers"
	"nifty-paper-terminal/internal/notify"
)

type profileRequest struct {
	ClientID       string `json:"client_id"`
	SecretKey      string `json:"secret_key"`
	RedirectURL    string `json:"redirect_url"`
	TelegramToken  string `json:"telegram_token"`
	TelegramChatID string `json:"telegram_chat_id"`
}

type exchangeRequest struct {
	RedirectURL string `json:"redirect_url"`
	AuthCode    string `json:"auth_code"`
}

type otpRequest struct {
	OTP string `json:"otp"`
}

func (s *Server) getProfile(c *gin.Context) {
	creds, err := s.creds.Get()
	if errors.Is(err, credentials.ErrNotFound) {
		c.JSON(http.StatusOK, credentials.Credentials{})
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, creds.Masked())
}

// keep returns old when the submitted value is empty or the masked form
// the UI was given, so secrets survive a save without being retyped.
func keep(submitted, old string) string {
	submitted = strings.TrimSpace(submitted)
	if submitted == "" || (old != "" && submitted == credentials.MaskToken(old)) {
		return old
	}
	return submitted
}

func (s *Server) putProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	old, err := s.creds.Get()
	if err != nil && !errors.Is(err, credentials.ErrNotFound) {
		fail(c, err)
		return
	}
	creds := credentials.Credentials{
		ClientID:       strings.TrimSpace(req.ClientID),
		SecretKey:      keep(req.SecretKey, old.SecretKey),
		RedirectURL:    strings.TrimSpace(req.RedirectURL),
		TelegramToken:  keep(req.TelegramToken, old.TelegramToken),
		TelegramChatID: strings.TrimSpace(req.TelegramChatID),
		FyersConnected: old.FyersConnected && old.ClientID == strings.TrimSpace(req.ClientID),
	}
	if err := creds.Validate(); err != nil {
		fail(c, err)
		return
	}

	if err := s.notifier.Configure(creds.TelegramToken, creds.TelegramChatID); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	creds.TelegramActive = old.TelegramActive && s.notifier.Enabled() && old.TelegramToken == creds.TelegramToken
	if err := s.creds.Save(creds); err != nil {
		fail(c, err)
		return
	}
	if old.ClientID != "" && old.ClientID != creds.ClientID {
		_ = s.creds.SetAccessToken("", 0)
	}

	s.logger.Info("Profile saved", zap.String("client_id", creds.ClientID), zap.Bool("telegram", creds.TelegramConfigured()))
	saved, err := s.creds.Get()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, saved.Masked())
}

// redirectURL is where the broker sends the user after login.
func (s *Server) redirectURL(c *gin.Context, creds credentials.Credentials) string {
	if creds.RedirectURL != "" {
		return creds.RedirectURL
	}
	if s.cfg.Fyers.RedirectURL != "" {
		return s.cfg.Fyers.RedirectURL
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/auth/callback", scheme, c.Request.Host)
}

func (s *Server) profile() (credentials.Credentials, error) {
	creds, err := s.creds.Get()
	if err != nil {
		return creds, err
	}
	return creds, creds.Validate()
}

func (s *Server) authURL(c *gin.Context) {
	creds, err := s.profile()
	if err != nil {
		fail(c, err)
		return
	}
	state, err := s.states.Issue()
	if err != nil {
		fail(c, err)
		return
	}
	redirect := s.redirectURL(c, creds)
	c.JSON(http.StatusOK, gin.H{
		"url":          fyers.AuthURL(s.cfg.Fyers.BaseURL, creds.ClientID, redirect, state),
		"redirect_uri": redirect,
	})
}

// connect exchanges an auth code and stores the token.
func (s *Server) connect(c *gin.Context, code string) (string, error) {
	creds, err := s.profile()
	if err != nil {
		return "", err
	}
	token, err := s.marketClient(creds).ExchangeAuthCode(c.Request.Context(), creds.SecretKey, code)
	if err != nil {
		return "", err
	}
	return token, s.storeToken(token)
}

// storeToken saves a fresh token and reconnects a running engine.
func (s *Server) storeToken(token string) error {
	if err := s.creds.SetAccessToken(token, s.cfg.Fyers.TokenTTL()); err != nil {
		return err
	}
	creds, err := s.creds.Get()
	if err != nil {
		return err
	}
	if err := s.creds.SetStatus(true, creds.TelegramActive); err != nil {
		return err
	}
	if e := s.currentEngine(); e != nil {
		creds.AccessToken = token
		e.SetMarket(s.marketClient(creds))
	}
	s.logger.Info("Broker connected", zap.String("token", credentials.MaskToken(token)))
	return nil
}

func (s *Server) authCallback(c *gin.Context) {
	code := fyers.CodeFromQuery(c)
	if code == "" {
		fyers.WriteCallbackPage(c, http.StatusBadRequest, "No auth_code in URL. Please try again.")
		return
	}
	if err := s.states.Verify(c.Query("state")); err != nil {
		fyers.WriteCallbackPage(c, http.StatusBadRequest, "Login link expired. Start the login again from the dashboard.")
		return
	}
	if _, err := s.connect(c, code); err != nil {
		s.logger.Error("Token exchange failed", zap.Error(err))
		fyers.WriteCallbackPage(c, http.StatusBadGateway, "Token exchange failed: "+err.Error())
		return
	}
	fyers.WriteCallbackPage(c, http.StatusOK, "Connected! You can close this tab and return to the terminal.")
}

func (s *Server) exchange(c *gin.Context) {
	var req exchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	input := req.RedirectURL
	if input == "" {
		input = req.AuthCode
	}
	code, err := fyers.ExtractAuthCode(input)
	if err != nil {
		fail(c, err)
		return
	}
	if state := fyers.ExtractState(input); state != "" {
		if err := s.states.Verify(state); err != nil {
			fail(c, err)
			return
		}
	}

	token, err := s.connect(c, code)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": true, "token": credentials.MaskToken(token)})
}

// loginFlow returns the pending login or starts a new one.
func (s *Server) loginFlow(creds credentials.Credentials, fresh bool) *fyers.LoginFlow {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fresh || s.login == nil {
		s.login = fyers.NewLoginFlow(s.marketClient(creds), creds.SecretKey)
	}
	return s.login
}

func (s *Server) loginStart(c *gin.Context) {
	var req fyers.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	creds, err := s.profile()
	if err != nil {
		fail(c, err)
		return
	}

	token, err := s.loginFlow(creds, true).Start(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	if token == "" {
		c.JSON(http.StatusOK, gin.H{"connected": false, "step": "otp"})
		return
	}
	if err := s.storeToken(token); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": true, "token": credentials.MaskToken(token)})
}

func (s *Server) loginOTP(c *gin.Context) {
	var req otpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	creds, err := s.profile()
	if err != nil {
		fail(c, err)
		return
	}

	token, err := s.loginFlow(creds, false).SubmitOTP(c.Request.Context(), req.OTP)
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.storeToken(token); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": true, "token": credentials.MaskToken(token)})
}

func (s *Server) testToken(c *gin.Context) {
	creds, err := s.profile()
	if err != nil {
		fail(c, err)
		return
	}
	valid, err := s.marketClient(creds).ValidateToken(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.creds.SetStatus(valid, creds.TelegramActive); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

func (s *Server) testTelegram(c *gin.Context) {
	creds, err := s.creds.Get()
	if err != nil && !errors.Is(err, credentials.ErrNotFound) {
		fail(c, err)
		return
	}
	sendErr := s.notifier.Test(c.Request.Context())
	if err == nil {
		_ = s.creds.SetStatus(creds.FyersConnected, sendErr == nil)
	}
	if sendErr != nil {
		if errors.Is(sendErr, notify.ErrDisabled) {
			fail(c, sendErr)
			return
		}
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": sendErr.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": true})
}
