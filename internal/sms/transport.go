package sms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var (
	// ErrTransportDisabled is returned when no SMS provider is configured.
	ErrTransportDisabled = errors.New("sms: transport disabled")
	// ErrMissingCredentials is returned when the provider is configured without an API key.
	ErrMissingCredentials = errors.New("sms: provider credentials missing")
)

// DisabledTransport fails every send.
type DisabledTransport struct{}

// Send always fails.
func (DisabledTransport) Send(context.Context, string, string) error {
	return ErrTransportDisabled
}

// HTTPTransportConfig describes an HTTP SMS provider.
type HTTPTransportConfig struct {
	BaseURL    string
	APIKey     string
	SenderID   string
	Timeout    time.Duration
	RetryCount int
	Logger     *zap.Logger
}

// HTTPTransport posts messages to a JSON SMS provider API.
type HTTPTransport struct {
	client   *resty.Client
	apiKey   string
	senderID string
	logger   *zap.Logger
}

type providerMessage struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Text string `json:"text"`
}

type providerResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Error     string `json:"error"`
}

// NewHTTPTransport builds a provider client.
func NewHTTPTransport(cfg HTTPTransportConfig) (*HTTPTransport, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("sms: provider base url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPTransport{
		client:   client,
		apiKey:   strings.TrimSpace(cfg.APIKey),
		senderID: strings.TrimSpace(cfg.SenderID),
		logger:   logger,
	}, nil
}

// Send submits one message. Missing credentials, network errors and non-2xx answers all fail.
func (t *HTTPTransport) Send(ctx context.Context, phone, message string) error {
	if t.apiKey == "" {
		return ErrMissingCredentials
	}

	var response providerResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetAuthToken(t.apiKey).
		SetBody(providerMessage{To: phone, From: t.senderID, Text: message}).
		SetResult(&response).
		SetError(&response).
		Post("/messages")
	if err != nil {
		return fmt.Errorf("sms: provider request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("sms: provider rejected message (status %d): %s", resp.StatusCode(), response.Error)
	}

	t.logger.Debug("sms accepted by provider",
		zap.String("message_id", response.MessageID),
		zap.String("provider_status", response.Status))
	return nil
}
