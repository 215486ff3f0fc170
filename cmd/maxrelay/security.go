package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	signatureHeader  = "X-Maxrelay-Signature"
	visitorIdleAfter = 10 * time.Minute
)

// verifySignature reads the request body and checks it against a
// "sha256=<hex>" HMAC in headerName. The body is restored on r so that later
// readers see it again.
func verifySignature(r *http.Request, secretKey, headerName string) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	if secretKey == "" {
		if os.Getenv("MAXRELAY_ENV") == "production" {
			return nil, fmt.Errorf("webhook secret is required in production mode")
		}
		return body, nil
	}

	header := r.Header.Get(headerName)
	if header == "" {
		return nil, fmt.Errorf("missing signature header: %s", headerName)
	}
	algo, expected, ok := strings.Cut(header, "=")
	if !ok || strings.ToLower(algo) != "sha256" {
		return nil, fmt.Errorf("invalid signature format in header %s", headerName)
	}

	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(computed), []byte(strings.ToLower(expected))) {
		return nil, fmt.Errorf("signature mismatch")
	}
	return body, nil
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands every client IP its own token bucket. Buckets that have
// been idle for idleAfter are dropped on the next sweep.
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	idleAfter time.Duration
	lastSweep time.Time
}

// NewRateLimiter allows perMinute requests per IP on average with bursts of
// up to burst. A non-positive perMinute rejects everything.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	rl := &RateLimiter{
		visitors:  make(map[string]*visitor),
		idleAfter: visitorIdleAfter,
		lastSweep: time.Now(),
	}
	if perMinute <= 0 {
		return rl
	}
	if burst <= 0 {
		burst = 1
	}
	rl.limit = rate.Limit(float64(perMinute) / 60)
	rl.burst = burst
	return rl
}

func (rl *RateLimiter) Allow(ip string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.idleAfter {
		for key, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.idleAfter {
				delete(rl.visitors, key)
			}
		}
		rl.lastSweep = now
	}

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}
