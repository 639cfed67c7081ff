package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "VILLAGEWATCH"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabaseDriver = "sqlite"
	defaultDatabaseDSN    = "villagewatch.db"
	defaultLogLevel       = "info"
	defaultCookieName     = "app_session"
	defaultSessionIssuer  = "villagewatch-auth"
	defaultTokenTTL       = 12 * time.Hour
	defaultSmsTimeout     = 10 * time.Second
	defaultRedisChannel   = "villagewatch:realtime"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabaseDriver string
	DatabaseDSN    string
	LogLevel       string

	SigningSecret string
	SessionIssuer string
	CookieName    string
	TokenTTL      time.Duration

	SmsBaseURL    string
	SmsAPIKey     string
	SmsSenderID   string
	SmsTimeout    time.Duration
	SmsRetryCount int

	RedisURL       string
	RedisChannel   string
	AllowedOrigins []string
}

// SmsEnabled reports whether an outbound SMS provider is configured.
func (c AppConfig) SmsEnabled() bool {
	return strings.TrimSpace(c.SmsBaseURL) != ""
}

// RelayEnabled reports whether realtime events should be mirrored through Redis.
func (c AppConfig) RelayEnabled() bool {
	return strings.TrimSpace(c.RedisURL) != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.issuer", defaultSessionIssuer)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
	configViper.SetDefault("sms.timeout", defaultSmsTimeout)
	configViper.SetDefault("sms.retry_count", 0)
	configViper.SetDefault("redis.channel", defaultRedisChannel)
	configViper.SetDefault("realtime.allowed_origins", []string{"*"})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:    configViper.GetString("database.dsn"),
		LogLevel:       configViper.GetString("log.level"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		SessionIssuer:  configViper.GetString("auth.issuer"),
		CookieName:     configViper.GetString("auth.cookie_name"),
		TokenTTL:       configViper.GetDuration("auth.token_ttl"),
		SmsBaseURL:     configViper.GetString("sms.base_url"),
		SmsAPIKey:      configViper.GetString("sms.api_key"),
		SmsSenderID:    configViper.GetString("sms.sender_id"),
		SmsTimeout:     configViper.GetDuration("sms.timeout"),
		SmsRetryCount:  configViper.GetInt("sms.retry_count"),
		RedisURL:       configViper.GetString("redis.url"),
		RedisChannel:   configViper.GetString("redis.channel"),
		AllowedOrigins: normalizeOrigins(configViper.GetStringSlice("realtime.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.DatabaseDriver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if strings.TrimSpace(c.SessionIssuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if c.SmsRetryCount < 0 {
		return fmt.Errorf("sms.retry_count must not be negative")
	}
	if c.RelayEnabled() && strings.TrimSpace(c.RedisChannel) == "" {
		return fmt.Errorf("redis.channel is required when redis.url is set")
	}
	return nil
}

func normalizeOrigins(raw []string) []string {
	origins := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
