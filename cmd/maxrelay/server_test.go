package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "maxrelay/internal/errors"
	"maxrelay/internal/models"
	"maxrelay/internal/service"
	"maxrelay/pkg/circuitbreaker"
)

type mockRelay struct {
	mock.Mock
}

func (m *mockRelay) HandleMessage(ctx context.Context, msg models.SourceMessage, overrideChatID *int64) (service.Outcome, error) {
	args := m.Called(ctx, msg, overrideChatID)
	return args.Get(0).(service.Outcome), args.Error(1)
}

type stubBreaker struct {
	state circuitbreaker.State
}

func (b stubBreaker) Stats() circuitbreaker.Stats {
	return circuitbreaker.Stats{Name: "telegram", State: b.state.String()}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestServer(t *testing.T, cfg models.ServerConfig, relay service.MessageHandler, breaker BreakerReporter) *Server {
	t.Helper()
	if cfg.WebhookRatePerMin == 0 {
		cfg.WebhookRatePerMin = 600
	}
	return NewServer(context.Background(), cfg, relay, breaker, quietLogger())
}

func postWebhook(s *Server, body string, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/max", strings.NewReader(body))
	if header != "" {
		req.Header.Set(signatureHeader, header)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestServer_HandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		breaker    BreakerReporter
		wantStatus string
	}{
		{name: "closed breaker", breaker: stubBreaker{state: circuitbreaker.StateClosed}, wantStatus: "ok"},
		{name: "open breaker", breaker: stubBreaker{state: circuitbreaker.StateOpen}, wantStatus: "degraded"},
		{name: "no breaker", wantStatus: "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, models.ServerConfig{}, new(mockRelay), tt.breaker)

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			w := httptest.NewRecorder()
			server.router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

			var resp healthResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, Version, resp.Version)
		})
	}
}

func TestServer_HandleMetrics(t *testing.T) {
	server := newTestServer(t, models.ServerConfig{}, new(mockRelay), nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var snapshot map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snapshot))
	assert.Contains(t, snapshot, "counters")
	assert.Contains(t, snapshot, "timers")
}

func TestServer_WebhookDispatchesMessage(t *testing.T) {
	relay := new(mockRelay)
	handled := make(chan models.SourceMessage, 1)
	relay.On("HandleMessage", mock.Anything, mock.Anything, (*int64)(nil)).
		Run(func(args mock.Arguments) { handled <- args.Get(1).(models.SourceMessage) }).
		Return(service.OutcomeForwarded, nil)

	server := newTestServer(t, models.ServerConfig{WebhookSecret: "s3cret"}, relay, nil)
	body := `{"type":"message","message":{"id":"17","chat_id":100,"time":1700000000000,"text":"hi"}}`

	w := postWebhook(server, body, signBody("s3cret", []byte(body)))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"status":"accepted"}`, w.Body.String())

	select {
	case msg := <-handled:
		assert.Equal(t, models.RawID("17"), msg.ID)
		require.NotNil(t, msg.ChatID)
		assert.Equal(t, int64(100), *msg.ChatID)
		assert.Equal(t, "hi", msg.Text)
	case <-time.After(time.Second):
		t.Fatal("message was not dispatched")
	}

	server.inflight.Wait()
	relay.AssertExpectations(t)
}

func TestServer_WebhookMalformedIDIsStillAccepted(t *testing.T) {
	relay := new(mockRelay)
	done := make(chan struct{})
	relay.On("HandleMessage", mock.Anything, mock.Anything, (*int64)(nil)).
		Run(func(mock.Arguments) { close(done) }).
		Return(service.OutcomeMalformed, apperrors.NewMalformedMessageError("abc", errors.New("not a number")))

	server := newTestServer(t, models.ServerConfig{}, relay, nil)
	w := postWebhook(server, `{"type":"message","message":{"id":"abc","chat_id":1}}`, "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("message was not dispatched")
	}
	server.inflight.Wait()
	relay.AssertExpectations(t)
}

func TestServer_WebhookRejections(t *testing.T) {
	valid := `{"type":"message","message":{"id":"1","chat_id":1}}`

	tests := []struct {
		name     string
		body     string
		header   string
		wantCode int
		wantBody string
	}{
		{
			name:     "missing signature",
			body:     valid,
			wantCode: http.StatusUnauthorized,
			wantBody: "bad_signature",
		},
		{
			name:     "wrong signature",
			body:     valid,
			header:   signBody("nope", []byte(valid)),
			wantCode: http.StatusUnauthorized,
			wantBody: "bad_signature",
		},
		{
			name:     "not json",
			body:     "hello",
			header:   signBody("s3cret", []byte("hello")),
			wantCode: http.StatusBadRequest,
			wantBody: "bad_payload",
		},
		{
			name:     "oversized body",
			body:     strings.Repeat("x", 2<<20),
			wantCode: http.StatusRequestEntityTooLarge,
			wantBody: "too_large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := new(mockRelay)
			server := newTestServer(t, models.ServerConfig{WebhookSecret: "s3cret"}, relay, nil)

			w := postWebhook(server, tt.body, tt.header)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
			relay.AssertNotCalled(t, "HandleMessage", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestServer_WebhookIgnoresOtherEvents(t *testing.T) {
	relay := new(mockRelay)
	server := newTestServer(t, models.ServerConfig{}, relay, nil)

	for _, body := range []string{`{"type":"typing","chat_id":1}`, `{"type":"message"}`} {
		w := postWebhook(server, body, "")
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.JSONEq(t, `{"status":"ignored"}`, w.Body.String())
	}
	relay.AssertNotCalled(t, "HandleMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestServer_WebhookRateLimited(t *testing.T) {
	relay := new(mockRelay)
	server := newTestServer(t, models.ServerConfig{WebhookRatePerMin: 1}, relay, nil)
	server.limiter = NewRateLimiter(1, 1)

	body := `{"type":"typing"}`
	assert.Equal(t, http.StatusAccepted, postWebhook(server, body, "").Code)

	w := postWebhook(server, body, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate_limited")
}

func TestServer_RejectsWrongMethod(t *testing.T) {
	server := newTestServer(t, models.ServerConfig{}, new(mockRelay), nil)

	req := httptest.NewRequest(http.MethodGet, "/webhook/max", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_ShutdownWaitsForDispatch(t *testing.T) {
	relay := new(mockRelay)
	release := make(chan struct{})
	relay.On("HandleMessage", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(service.OutcomeForwarded, nil)

	server := newTestServer(t, models.ServerConfig{}, relay, nil)
	w := postWebhook(server, `{"type":"message","message":{"id":"1","chat_id":1}}`, "")
	require.Equal(t, http.StatusAccepted, w.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := server.Shutdown(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook dispatch still running")

	close(release)
	require.NoError(t, server.Shutdown(context.Background()))
}
