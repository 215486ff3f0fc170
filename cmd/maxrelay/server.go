package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"maxrelay/internal/constants"
	apperrors "maxrelay/internal/errors"
	"maxrelay/internal/httputil"
	"maxrelay/internal/metrics"
	"maxrelay/internal/middleware"
	"maxrelay/internal/models"
	"maxrelay/internal/service"
	"maxrelay/internal/tracing"
	"maxrelay/pkg/circuitbreaker"
	"maxrelay/pkg/max"
)

// BreakerReporter exposes the sender breaker on /health
type BreakerReporter interface {
	Stats() circuitbreaker.Stats
}

type Server struct {
	router  *mux.Router
	cfg     models.ServerConfig
	relay   service.MessageHandler
	breaker BreakerReporter
	limiter *RateLimiter
	logger  *logrus.Logger
	server  *http.Server

	registry *metrics.Registry

	// webhook messages are relayed on baseCtx, not the request context
	baseCtx   context.Context
	inflight  sync.WaitGroup
	startTime time.Time
}

func NewServer(ctx context.Context, cfg models.ServerConfig, relay service.MessageHandler, breaker BreakerReporter, logger *logrus.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		cfg:       cfg,
		relay:     relay,
		breaker:   breaker,
		limiter:   NewRateLimiter(cfg.WebhookRatePerMin, constants.DefaultWebhookBurst),
		logger:    logger,
		registry:  metrics.GetRegistry(),
		baseCtx:   ctx,
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/health", s.observe("/health", s.handleHealth())).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.observe("/metrics", s.handleMetrics())).Methods(http.MethodGet)
	s.router.Handle("/webhook/max", s.observe("/webhook/max", s.handleMaxWebhook())).Methods(http.MethodPost)
}

func (s *Server) observe(endpoint string, h http.Handler) http.Handler {
	return middleware.Observability(s.logger, endpoint, s.cfg.TrustForwardedFor)(h)
}

// Start blocks serving HTTP until Shutdown is called
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(constants.DefaultServerReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(constants.DefaultServerWriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(constants.DefaultServerIdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for webhook messages already
// handed to the relay.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = fmt.Errorf("webhook dispatch still running: %w", ctx.Err())
		}
	}
	return err
}

type healthResponse struct {
	Status   string               `json:"status"`
	Version  string               `json:"version"`
	UptimeMs int64                `json:"uptime_ms"`
	Sender   circuitbreaker.Stats `json:"sender"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:   "ok",
			Version:  Version,
			UptimeMs: time.Since(s.startTime).Milliseconds(),
		}
		if s.breaker != nil {
			resp.Sender = s.breaker.Stats()
			if resp.Sender.State == circuitbreaker.StateOpen.String() {
				resp.Status = "degraded"
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleMaxWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := service.LogWithContext(r.Context(), s.logger)

		if !s.limiter.Allow(httputil.ClientIP(r, s.cfg.TrustForwardedFor)) {
			s.reject(w, http.StatusTooManyRequests, "rate_limited")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, constants.MaxWebhookBodyBytes)
		body, err := verifySignature(r, s.cfg.WebhookSecret, signatureHeader)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.reject(w, http.StatusRequestEntityTooLarge, "too_large")
				return
			}
			log.WithError(err).Warn("Webhook signature rejected")
			s.reject(w, http.StatusUnauthorized, "bad_signature")
			return
		}

		var ev max.Event
		if err := json.Unmarshal(body, &ev); err != nil {
			log.WithError(err).Debug("Webhook body is not a gateway event")
			s.reject(w, http.StatusBadRequest, "bad_payload")
			return
		}
		if ev.Type != max.EventTypeMessage || ev.Message == nil {
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
			return
		}

		ctx := tracing.WithRequestID(s.baseCtx, tracing.GetRequestID(r.Context()))
		msg := *ev.Message
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			outcome, err := s.relay.HandleMessage(ctx, msg, nil)
			entry := service.LogWithContext(ctx, s.logger).WithFields(logrus.Fields{
				service.LogFieldMessageID: string(msg.ID),
				service.LogFieldOutcome:   outcome.String(),
			})
			switch {
			case apperrors.HasCode(err, apperrors.ErrCodeMalformedMessage):
				entry.WithError(err).Info("Webhook message has an invalid id")
				return
			case err != nil:
				entry.WithError(err).Warn("Webhook message not committed")
				return
			}
			entry.Debug("Webhook message handled")
		}()

		metrics.IncrementCounter("webhook_accepted_total", nil, "Webhook events handed to the relay")
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

func (s *Server) reject(w http.ResponseWriter, status int, reason string) {
	metrics.IncrementCounter("webhook_rejected_total", map[string]string{"reason": reason}, "Webhook requests rejected before dispatch")
	writeJSON(w, status, map[string]string{"error": reason})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
