package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady runs every configured check and reports 503 if any fails.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	checks := make(map[string]string, len(s.checks)+1)

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status = "not_ready"
	} else {
		checks["templates"] = "ok"
	}

	for _, c := range s.checks {
		if err := c.Fn(ctx); err != nil {
			checks[c.Name] = fmt.Sprintf("failed: %v", err)
			status = "not_ready"
			continue
		}
		checks[c.Name] = "ok"
	}

	if status != "ready" {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics writes request, security, rate limit and cache counters in
// the Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	tm := s.tracer.GetMetrics()
	rl := s.limiter.GetMetrics()
	sec := s.detector.GetMetrics()
	billHits, billMisses := s.bills.Stats()
	statHits, statMisses := s.stats.Stats()

	metric := func(name, kind, help string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %v\n", name, help, name, kind, name, value)
	}

	metric("http_requests_total", "counter", "Total number of HTTP requests", tm.TotalRequests)
	metric("http_requests_in_flight", "gauge", "Requests being served", tm.InFlight)
	fmt.Fprintf(w, "# HELP http_responses_total Responses by status class\n# TYPE http_responses_total counter\n")
	fmt.Fprintf(w, "http_responses_total{class=\"2xx\"} %d\n", tm.Status2xx)
	fmt.Fprintf(w, "http_responses_total{class=\"3xx\"} %d\n", tm.Status3xx)
	fmt.Fprintf(w, "http_responses_total{class=\"4xx\"} %d\n", tm.Status4xx)
	fmt.Fprintf(w, "http_responses_total{class=\"5xx\"} %d\n", tm.Status5xx)
	metric("http_request_duration_ms_total", "counter", "Sum of request durations in milliseconds", tm.DurationTotalMs)

	metric("rate_limit_allowed_total", "counter", "Requests allowed by the rate limiter", rl.Allowed)
	metric("rate_limit_rejected_total", "counter", "Requests rejected by the rate limiter", rl.Rejected)
	metric("rate_limit_clients", "gauge", "Clients tracked by the rate limiter", rl.ClientCount)

	metric("security_suspicious_requests_total", "counter", "Requests matching a probe pattern", sec.SuspiciousRequests)
	metric("security_spoofed_forwarding_total", "counter", "Forwarding headers from untrusted peers", sec.SpoofedForwarding)

	fmt.Fprintf(w, "# HELP cache_hits_total Read cache hits\n# TYPE cache_hits_total counter\n")
	fmt.Fprintf(w, "cache_hits_total{cache=\"bills\"} %d\ncache_hits_total{cache=\"stats\"} %d\n", billHits, statHits)
	fmt.Fprintf(w, "# HELP cache_misses_total Read cache misses\n# TYPE cache_misses_total counter\n")
	fmt.Fprintf(w, "cache_misses_total{cache=\"bills\"} %d\ncache_misses_total{cache=\"stats\"} %d\n", billMisses, statMisses)
	fmt.Fprintf(w, "# HELP cache_entries Entries held by the read cache\n# TYPE cache_entries gauge\n")
	fmt.Fprintf(w, "cache_entries{cache=\"bills\"} %d\ncache_entries{cache=\"stats\"} %d\n", s.bills.Size(), s.stats.Size())

	metric("uptime_seconds", "gauge", "Seconds since the server started", int64(time.Since(s.started).Seconds()))
}
