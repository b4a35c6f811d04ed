// Package middleware wraps the status server handlers with request logging,
// tracing and Prometheus accounting.
package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"telxfwd/internal/metrics"
	"telxfwd/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Observability logs, traces and counts every request. Routes are labelled by
// their mux path template so ids never reach metric labels.
func Observability(logger *logrus.Logger, m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := routeOf(r)

			ctx, span := tracing.StartHTTPSpan(r.Context(), r.Method, route)
			span.SetAttributes(attribute.String("client.address", ClientIP(r)))
			r = r.WithContext(ctx)

			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			elapsed := time.Since(start)
			span.SetAttributes(
				attribute.Int("http.response.status_code", wrapper.statusCode),
				attribute.Int64("http.response.size", wrapper.responseSize),
			)
			var spanErr error
			if wrapper.statusCode >= http.StatusInternalServerError {
				spanErr = fmt.Errorf("HTTP %d", wrapper.statusCode)
			}
			tracing.EndSpan(span, spanErr)

			m.HTTPRequestServed(r.Method, route, wrapper.statusCode, elapsed)

			level := logrus.DebugLevel
			switch {
			case wrapper.statusCode >= http.StatusInternalServerError:
				level = logrus.ErrorLevel
			case wrapper.statusCode >= http.StatusBadRequest:
				level = logrus.WarnLevel
			}
			logger.WithFields(logrus.Fields{
				"method":      r.Method,
				"route":       route,
				"status_code": wrapper.statusCode,
				"duration_ms": elapsed.Milliseconds(),
				"size":        wrapper.responseSize,
				"remote_ip":   ClientIP(r),
				"trace_id":    tracing.GetOtelTraceID(ctx),
			}).Log(level, "HTTP request completed")
		})
	}
}

func routeOf(r *http.Request) string {
	if current := mux.CurrentRoute(r); current != nil {
		if tmpl, err := current.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// responseWrapper captures the status code and body size. It stays
// hijackable so websocket upgrades pass through.
type responseWrapper struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
}

func (rw *responseWrapper) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWrapper) Write(data []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(data)
	rw.responseSize += int64(n)
	return n, err
}

func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw.statusCode = http.StatusSwitchingProtocols
	return http.NewResponseController(rw.ResponseWriter).Hijack()
}

func (rw *responseWrapper) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
