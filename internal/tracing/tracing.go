package tracing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	// RelayIDKey tags everything done on behalf of one source message.
	RelayIDKey   ContextKey = "relay_id"
	StartTimeKey ContextKey = "start_time"
)

func newID(prefix string, size int) string {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s%d", prefix, time.Now().UnixNano())
	}
	return prefix + hex.EncodeToString(buf)
}

func GenerateRequestID() string {
	return newID("req_", 8)
}

func GenerateRelayID() string {
	return newID("rly_", 8)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithRelayID(ctx context.Context, relayID string) context.Context {
	return context.WithValue(ctx, RelayIDKey, relayID)
}

func WithStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, StartTimeKey, startTime)
}

func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

func GetRelayID(ctx context.Context) string {
	id, _ := ctx.Value(RelayIDKey).(string)
	return id
}

// Duration reports time elapsed since WithStartTime, or zero.
func Duration(ctx context.Context) time.Duration {
	start, ok := ctx.Value(StartTimeKey).(time.Time)
	if !ok {
		return 0
	}
	return time.Since(start)
}
