package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransportPostsMessage(t *testing.T) {
	var received providerMessage
	var authorization string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/messages", r.URL.Path)
		authorization = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message_id":"m-1","status":"queued"}`))
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(HTTPTransportConfig{
		BaseURL:  server.URL + "/",
		APIKey:   "key-123",
		SenderID: "VILLAGE",
		Timeout:  time.Second,
	})
	require.NoError(t, err)

	require.NoError(t, transport.Send(context.Background(), "+15550001", "Evacuate now"))
	assert.Equal(t, "Bearer key-123", authorization)
	assert.Equal(t, providerMessage{To: "+15550001", From: "VILLAGE", Text: "Evacuate now"}, received)
}

func TestHTTPTransportRejectsErrorStatus(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"invalid number"}`))
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(HTTPTransportConfig{BaseURL: server.URL, APIKey: "key", Timeout: time.Second})
	require.NoError(t, err)

	err = transport.Send(context.Background(), "+1", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "invalid number")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPTransportRequiresCredentials(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(HTTPTransportConfig{BaseURL: server.URL})
	require.NoError(t, err)

	assert.ErrorIs(t, transport.Send(context.Background(), "+1", "hello"), ErrMissingCredentials)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestHTTPTransportRequiresBaseURL(t *testing.T) {
	_, err := NewHTTPTransport(HTTPTransportConfig{BaseURL: "  ", APIKey: "key"})
	assert.Error(t, err)
}

func TestHTTPTransportHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(HTTPTransportConfig{BaseURL: server.URL, APIKey: "key", Timeout: 5 * time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, transport.Send(ctx, "+1", "hello"))
}

func TestDisabledTransport(t *testing.T) {
	assert.ErrorIs(t, DisabledTransport{}.Send(context.Background(), "+1", "hello"), ErrTransportDisabled)
}
