package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config tunes a breaker. IsFailure decides which errors count against the
// breaker; nil counts every error except context cancellation.
type Config struct {
	Name             string
	MaxFailures      uint32
	Timeout          time.Duration
	HalfOpenMaxCalls uint32
	IsFailure        func(error) bool
}

// CircuitBreaker stops calling a failing dependency for Timeout after
// MaxFailures consecutive failures, then lets HalfOpenMaxCalls probes through.
type CircuitBreaker struct {
	cfg    Config
	logger *logrus.Logger
	now    func() time.Time

	mu            sync.Mutex
	state         State
	failures      uint32
	openedAt      time.Time
	halfOpenCalls uint32
	halfOpenOK    uint32
	requests      uint64
	rejected      uint64
}

func New(cfg Config, logger *logrus.Logger) *CircuitBreaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxCalls == 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CircuitBreaker{cfg: cfg, logger: logger, now: time.Now}
}

func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Execute runs fn unless the breaker is open, in which case it returns an
// *OpenError without calling fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance()
	switch cb.state {
	case StateOpen:
		cb.rejected++
		return &OpenError{Name: cb.cfg.Name, RetryAfter: cb.cfg.Timeout - cb.now().Sub(cb.openedAt)}
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.cfg.HalfOpenMaxCalls {
			cb.rejected++
			return &OpenError{Name: cb.cfg.Name}
		}
		cb.halfOpenCalls++
	}
	cb.requests++
	return nil
}

// advance moves an expired open breaker to half-open. Callers hold mu.
func (cb *CircuitBreaker) advance() {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.Timeout {
		cb.state = StateHalfOpen
		cb.halfOpenCalls = 0
		cb.halfOpenOK = 0
		cb.logger.WithField("circuit_breaker", cb.cfg.Name).Info("Circuit breaker half-open")
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && cb.cfg.IsFailure(err) {
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.MaxFailures {
			cb.trip()
		}
		return
	}

	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenOK++
		if cb.halfOpenOK >= cb.cfg.HalfOpenMaxCalls {
			cb.state = StateClosed
			cb.failures = 0
			cb.logger.WithField("circuit_breaker", cb.cfg.Name).Info("Circuit breaker closed after recovery")
		}
	case StateClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.cfg.Name,
		"failures":        cb.failures,
	}).Warn("Circuit breaker opened")
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return cb.state
}

type Stats struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures uint32 `json:"consecutive_failures"`
	Requests uint64 `json:"requests"`
	Rejected uint64 `json:"rejected"`
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return Stats{
		Name:     cb.cfg.Name,
		State:    cb.state.String(),
		Failures: cb.failures,
		Requests: cb.requests,
		Rejected: cb.rejected,
	}
}

// OpenError is returned while the breaker refuses calls.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is open", e.Name)
}

func IsOpen(err error) bool {
	var openErr *OpenError
	return errors.As(err, &openErr)
}
