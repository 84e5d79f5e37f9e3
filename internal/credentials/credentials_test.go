package credentials

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	s, err := NewStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SaveGet(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get()
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Save(Credentials{
		ClientID:       " XY12345-100 ",
		SecretKey:      "secret",
		TelegramToken:  "123:abc",
		TelegramChatID: "42",
	}))

	c, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, "XY12345-100", c.ClientID)
	assert.Equal(t, "secret", c.SecretKey)
	assert.True(t, c.TelegramConfigured())
	assert.Empty(t, c.AccessToken)
	assert.NoError(t, c.Validate())
}

func TestStore_AccessToken(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(Credentials{ClientID: "XY12345-100"}))
	require.NoError(t, s.SetAccessToken("eyJ0eXAiOiJKV1Qi", time.Hour))
	require.NoError(t, s.SetStatus(true, false))

	c, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, "eyJ0eXAiOiJKV1Qi", c.AccessToken)
	assert.True(t, c.FyersConnected)

	// Saving the profile again keeps the token.
	require.NoError(t, s.Save(c))
	assert.Equal(t, "eyJ0eXAiOiJKV1Qi", s.AccessToken())

	require.NoError(t, s.SetAccessToken("", 0))
	assert.Empty(t, s.AccessToken())
	require.NoError(t, s.SetAccessToken("", 0), "removing twice is fine")

	c, err = s.Get()
	require.NoError(t, err)
	assert.False(t, c.FyersConnected)
}

func TestStore_TokenExpires(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(Credentials{ClientID: "XY12345-100"}))
	require.NoError(t, s.SetAccessToken("short-lived-token", 50*time.Millisecond))
	assert.Equal(t, "short-lived-token", s.AccessToken())

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, s.AccessToken())
}

func TestStore_Clear(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(Credentials{ClientID: "XY12345-100"}))
	require.NoError(t, s.SetAccessToken("token-value-123", time.Hour))

	require.NoError(t, s.Clear())
	_, err := s.Get()
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, s.AccessToken())
}

func TestCredentials_Validate(t *testing.T) {
	assert.ErrorIs(t, Credentials{ClientID: "  "}.Validate(), ErrMissingClientID)
	assert.False(t, Credentials{TelegramToken: "x"}.TelegramConfigured())
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"short", "*****"},
		{"0123456789", "**********"},
		{"abcdef12345wxyz", "abcdef*****wxyz"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskToken(tt.in), tt.in)
	}

	m := Credentials{ClientID: "XY12345-100", SecretKey: "0123456789AB", AccessToken: "abcdef12345wxyz"}.Masked()
	assert.Equal(t, "XY12345-100", m.ClientID)
	assert.Equal(t, "012345**89AB", m.SecretKey)
	assert.Equal(t, "abcdef*****wxyz", m.AccessToken)
}
