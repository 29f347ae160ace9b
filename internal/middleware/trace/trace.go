// Package trace assigns request ids, logs each request and keeps the request
// counters served on /metrics.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"sync/atomic"
	"time"

	"billing/internal/log"
)

type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"

	// HeaderRequestID is echoed on every response.
	HeaderRequestID = "X-Request-ID"
)

// incoming ids are accepted only when they look like ours or a UUID.
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9_\-]{8,64}$`)

// Metrics is a snapshot of the request counters.
type Metrics struct {
	TotalRequests   int64
	InFlight        int64
	Status2xx       int64
	Status3xx       int64
	Status4xx       int64
	Status5xx       int64
	DurationTotalMs int64
}

type counters struct {
	total, inFlight        atomic.Int64
	s2xx, s3xx, s4xx, s5xx atomic.Int64
	durationMs             atomic.Int64
}

// Middleware traces requests.
type Middleware struct {
	extractIP func(*http.Request) string
	logger    *log.StructuredLogger
	counters  counters
}

// NewMiddleware creates the middleware. extractIP may be nil.
func NewMiddleware(extractIP func(*http.Request) string, logger *log.Logger) *Middleware {
	if logger == nil {
		logger = log.Discard()
	}
	return &Middleware{
		extractIP: extractIP,
		logger:    log.NewStructuredLogger(logger.WithComponent(log.ComponentTrace)),
	}
}

func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := ""
		if m.extractIP != nil {
			clientIP = m.extractIP(r)
		}

		requestID := r.Header.Get(HeaderRequestID)
		if !validRequestID.MatchString(requestID) {
			requestID = GenerateRequestID()
		}
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		r = r.WithContext(ctx)
		w.Header().Set(HeaderRequestID, requestID)

		m.counters.total.Add(1)
		m.counters.inFlight.Add(1)
		defer m.counters.inFlight.Add(-1)

		m.logger.LogHTTPStart(ctx, r, clientIP)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		durationMs := time.Since(start).Milliseconds()
		m.counters.durationMs.Add(durationMs)
		m.countStatus(rw.statusCode)

		m.logger.LogHTTPEnd(ctx, r, rw.statusCode, durationMs, clientIP)
	})
}

func (m *Middleware) countStatus(code int) {
	switch {
	case code >= 500:
		m.counters.s5xx.Add(1)
	case code >= 400:
		m.counters.s4xx.Add(1)
	case code >= 300:
		m.counters.s3xx.Add(1)
	default:
		m.counters.s2xx.Add(1)
	}
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// GenerateRequestID returns a new "req_" prefixed id.
func GenerateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(b)
}

// GetRequestID returns the request id stored in ctx, or "".
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// FromRequest is GetRequestID for a request, suitable for
// log.RequestIDMiddleware.
func FromRequest(r *http.Request) string {
	return GetRequestID(r.Context())
}

func (m *Middleware) GetMetrics() Metrics {
	return Metrics{
		TotalRequests:   m.counters.total.Load(),
		InFlight:        m.counters.inFlight.Load(),
		Status2xx:       m.counters.s2xx.Load(),
		Status3xx:       m.counters.s3xx.Load(),
		Status4xx:       m.counters.s4xx.Load(),
		Status5xx:       m.counters.s5xx.Load(),
		DurationTotalMs: m.counters.durationMs.Load(),
	}
}
