// Package metrics exposes Prometheus collectors for the status server.
package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTP holds request collectors registered on one registry.
type HTTP struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewHTTP registers the HTTP collectors on reg. Collectors that are already
// registered are reused.
func NewHTTP(reg prometheus.Registerer) (*HTTP, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scout_http_requests_total",
			Help: "Total number of status server requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scout_http_request_duration_seconds",
			Help:    "Histogram of status server latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 3},
		},
		[]string{"method", "route"},
	)
	var err error
	if requests, err = register(reg, requests); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	return &HTTP{requestsTotal: requests, requestDuration: duration}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

// ObserveRequest records one served request.
func (m *HTTP) ObserveRequest(method, route string, code int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RateLimit records how long requests waited on the host limiter.
type RateLimit struct {
	delays *prometheus.HistogramVec
}

// NewRateLimit registers the rate limit histogram on reg.
func NewRateLimit(reg prometheus.Registerer) (*RateLimit, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	delays, err := register(reg, prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scout_rate_limit_delay_seconds",
			Help:    "Time requests waited for a rate limit token, labeled by host.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"host"},
	))
	if err != nil {
		return nil, err
	}
	return &RateLimit{delays: delays}, nil
}

// ObserveRateLimitDelay records one wait.
func (m *RateLimit) ObserveRateLimitDelay(host string, d time.Duration) {
	m.delays.WithLabelValues(host).Observe(d.Seconds())
}
