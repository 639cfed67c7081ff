package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	require.NoError(t, err)

	assert.Equal(t, defaultHTTPAddress, cfg.HTTPAddress)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, defaultDatabaseDSN, cfg.DatabaseDSN)
	assert.Equal(t, defaultCookieName, cfg.CookieName)
	assert.Equal(t, defaultSessionIssuer, cfg.SessionIssuer)
	assert.Equal(t, 10*time.Second, cfg.SmsTimeout)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.False(t, cfg.SmsEnabled())
	assert.False(t, cfg.RelayEnabled())
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	_, err := Load(NewViper())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.signing_secret")
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("database.driver", "oracle")

	_, err := Load(configViper)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle")
}

func TestLoadSplitsAllowedOrigins(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("realtime.allowed_origins", []string{"https://a.example, https://b.example", " "})
	configViper.Set("sms.base_url", "https://sms.example")
	configViper.Set("redis.url", "redis://localhost:6379/0")

	cfg, err := Load(configViper)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.SmsEnabled())
	assert.True(t, cfg.RelayEnabled())
}
