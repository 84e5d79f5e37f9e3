// Package credentials keeps broker and Telegram secrets for the running
// session. Nothing here is ever written to disk.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/buntdb"
)

var (
	// ErrNotFound is returned when no profile has been saved yet.
	ErrNotFound = errors.New("credentials: not found")
	// ErrMissingClientID is returned when the profile has no Fyers app id.
	ErrMissingClientID = errors.New("credentials: client id is required")
)

const (
	profileKey = "profile"
	tokenKey   = "access_token"

	// DefaultTokenTTL is how long a broker access token is treated as valid.
	DefaultTokenTTL = 24 * time.Hour
)

// Credentials is what the user enters in the profile tab plus the session
// token and connection flags.
type Credentials struct {
	ClientID       string `json:"client_id"`
	SecretKey      string `json:"secret_key"`
	RedirectURL    string `json:"redirect_url"`
	TelegramToken  string `json:"telegram_token"`
	TelegramChatID string `json:"telegram_chat_id"`
	FyersConnected bool   `json:"fyers_connected"`
	TelegramActive bool   `json:"telegram_active"`

	AccessToken string `json:"-"`
}

// Validate checks the fields needed to talk to the broker.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return ErrMissingClientID
	}
	return nil
}

// TelegramConfigured reports whether alerts can be sent.
func (c Credentials) TelegramConfigured() bool {
	return c.TelegramToken != "" && c.TelegramChatID != ""
}

// Masked returns a copy safe to show in the UI or to log.
func (c Credentials) Masked() Credentials {
	c.SecretKey = MaskToken(c.SecretKey)
	c.TelegramToken = MaskToken(c.TelegramToken)
	c.AccessToken = MaskToken(c.AccessToken)
	return c
}

// Store is an in-memory credential store backed by buntdb.
type Store struct {
	db *buntdb.DB
}

// NewStore opens an in-memory store.
func NewStore() (*Store, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	if err := db.SetConfig(buntdb.Config{
		SyncPolicy:         buntdb.Never,
		AutoShrinkDisabled: true,
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure credential store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the saved profile. The access token is kept; use
// SetAccessToken to change it.
func (s *Store) Save(c Credentials) error {
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.SecretKey = strings.TrimSpace(c.SecretKey)
	c.RedirectURL = strings.TrimSpace(c.RedirectURL)
	c.TelegramToken = strings.TrimSpace(c.TelegramToken)
	c.TelegramChatID = strings.TrimSpace(c.TelegramChatID)

	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(profileKey, string(raw), nil)
		return err
	})
}

// Get returns the saved profile with the current access token, if any.
// An expired token reads as empty and clears FyersConnected.
func (s *Store) Get() (Credentials, error) {
	var c Credentials
	err := s.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(profileKey)
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return fmt.Errorf("failed to decode credentials: %w", err)
		}
		token, err := tx.Get(tokenKey)
		if err != nil && !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
		c.AccessToken = token
		return nil
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return Credentials{}, ErrNotFound
	}
	if err != nil {
		return Credentials{}, err
	}
	if c.AccessToken == "" {
		c.FyersConnected = false
	}
	return c, nil
}

// AccessToken returns the current token or "" once it has expired.
func (s *Store) AccessToken() string {
	var token string
	_ = s.db.View(func(tx *buntdb.Tx) error {
		token, _ = tx.Get(tokenKey)
		return nil
	})
	return token
}

// SetAccessToken stores token for ttl. An empty token removes it.
func (s *Store) SetAccessToken(token string, ttl time.Duration) error {
	token = strings.TrimSpace(token)
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		if token == "" {
			_, err := tx.Delete(tokenKey)
			if errors.Is(err, buntdb.ErrNotFound) {
				return nil
			}
			return err
		}
		_, _, err := tx.Set(tokenKey, token, &buntdb.SetOptions{Expires: true, TTL: ttl})
		return err
	})
}

// SetStatus records the result of the last connection tests.
func (s *Store) SetStatus(fyersConnected, telegramActive bool) error {
	c, err := s.Get()
	if errors.Is(err, ErrNotFound) {
		c = Credentials{}
	} else if err != nil {
		return err
	}
	c.FyersConnected = fyersConnected
	c.TelegramActive = telegramActive
	return s.Save(c)
}

// Clear removes everything.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		return tx.DeleteAll()
	})
}

// MaskToken hides the middle of a secret, keeping the first six and last
// four characters. Secrets of ten characters or fewer are fully masked.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 10 {
		return strings.Repeat("*", len(token))
	}
	return token[:6] + strings.Repeat("*", len(token)-10) + token[len(token)-4:]
}
