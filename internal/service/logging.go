package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"maxrelay/internal/tracing"
)

// Standard field names shared by every component.
const (
	LogFieldService   = "service"
	LogFieldComponent = "component"
	LogFieldOperation = "operation"

	LogFieldRelayID     = "relay_id"
	LogFieldRequestID   = "request_id"
	LogFieldTraceID     = "trace_id"
	LogFieldSourceChat  = "source_chat_id"
	LogFieldMessageID   = "message_id"
	LogFieldDestination = "destination_chat_id"
	LogFieldUserID      = "user_id"
	LogFieldKind        = "kind"
	LogFieldOutcome     = "outcome"
	LogFieldCommand     = "command"

	LogFieldDuration   = "duration_ms"
	LogFieldCount      = "count"
	LogFieldSize       = "size_bytes"
	LogFieldMethod     = "method"
	LogFieldURL        = "url"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"
	LogFieldAttempt    = "attempt"
)

// LogWithContext attaches the relay, request and trace ids found on ctx.
func LogWithContext(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	fields := logrus.Fields{}
	if id := tracing.GetRelayID(ctx); id != "" {
		fields[LogFieldRelayID] = id
	}
	if id := tracing.GetRequestID(ctx); id != "" {
		fields[LogFieldRequestID] = id
	}
	if id := tracing.TraceID(ctx); id != "" {
		fields[LogFieldTraceID] = id
	}
	return logger.WithFields(fields)
}
