package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"maxrelay/internal/httputil"
	"maxrelay/internal/metrics"
	"maxrelay/internal/service"
	"maxrelay/internal/tracing"
)

// Observability wraps a handler with a request id, a span, request metrics
// and a completion log line. endpoint is the route template used as a label,
// so that path parameters do not explode metric cardinality.
func Observability(logger *logrus.Logger, endpoint string, trustForwarded bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.StartSpan(r.Context(), "http "+endpoint,
				attribute.String("http.method", r.Method),
				attribute.String("http.route", endpoint),
			)
			defer span.End()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = tracing.GenerateRequestID()
			}
			ctx = tracing.WithRequestID(ctx, requestID)
			ctx = tracing.WithStartTime(ctx, time.Now())
			r = r.WithContext(ctx)
			w.Header().Set("X-Request-ID", requestID)

			clientIP := httputil.ClientIP(r, trustForwarded)
			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

			metrics.AddToCounter("http_requests_active", 1, nil, "Currently active HTTP requests")
			next.ServeHTTP(wrapper, r)
			metrics.AddToCounter("http_requests_active", -1, nil, "Currently active HTTP requests")

			duration := tracing.Duration(ctx)
			status := strconv.Itoa(wrapper.statusCode)
			labels := map[string]string{"method": r.Method, "endpoint": endpoint, "status_code": status}
			metrics.IncrementCounter("http_responses_total", labels, "HTTP responses by status code")
			metrics.RecordTimer("http_request_duration", duration, labels, "HTTP request duration")

			tracing.AddSpanAttributes(ctx,
				attribute.Int("http.response.status_code", wrapper.statusCode),
				attribute.Int64("http.response.size", wrapper.responseSize),
			)
			if wrapper.statusCode >= 500 {
				tracing.RecordError(ctx, fmt.Errorf("HTTP %d", wrapper.statusCode))
			}

			level := logrus.DebugLevel
			switch {
			case wrapper.statusCode >= 500:
				level = logrus.ErrorLevel
			case wrapper.statusCode >= 400:
				level = logrus.WarnLevel
			}
			service.LogWithContext(ctx, logger).WithFields(logrus.Fields{
				service.LogFieldMethod:     r.Method,
				service.LogFieldURL:        r.URL.Path,
				service.LogFieldStatusCode: wrapper.statusCode,
				service.LogFieldDuration:   duration.Milliseconds(),
				service.LogFieldRemoteIP:   clientIP,
				service.LogFieldUserAgent:  r.UserAgent(),
				service.LogFieldSize:       wrapper.responseSize,
			}).Log(level, "HTTP request completed")
		})
	}
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
	wroteHeader  bool
}

func (rw *responseWrapper) WriteHeader(statusCode int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWrapper) Write(data []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(data)
	rw.responseSize += int64(n)
	return n, err
}
