// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

const metricsNamespace = "rigrun_chat"

// Session outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeAborted   = "aborted"
	OutcomeTimeout   = "timeout"
	OutcomePaywall   = "payment_required"
)

// Metrics holds the process metrics. All methods are no-ops on nil.
type Metrics struct {
	// SessionsTotal counts finished stream sessions.
	// Labels: outcome (completed, failed, aborted, timeout, payment_required)
	SessionsTotal *prometheus.CounterVec

	// DeltasTotal counts applied stream deltas.
	// Labels: kind (content, reasoning, annotations)
	DeltasTotal *prometheus.CounterVec

	// TokensTotal counts reported token usage.
	// Labels: direction (prompt, completion)
	TokensTotal *prometheus.CounterVec

	// TimeToFirstDeltaSeconds measures latency from send to first delta.
	TimeToFirstDeltaSeconds prometheus.Histogram

	// RemoteSyncFailuresTotal counts background remote writes that failed.
	// Labels: op (create, list, load, rename, delete)
	RemoteSyncFailuresTotal *prometheus.CounterVec

	// ActiveStreams is 1 while a session is in flight.
	ActiveStreams prometheus.Gauge
}

// NewMetrics registers the metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "stream",
			Name:      "sessions_total",
			Help:      "Finished stream sessions by outcome",
		}, []string{"outcome"}),

		DeltasTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "stream",
			Name:      "deltas_total",
			Help:      "Stream deltas applied by kind",
		}, []string{"kind"}),

		TokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "stream",
			Name:      "tokens_total",
			Help:      "Tokens reported by the gateway by direction",
		}, []string{"direction"}),

		TimeToFirstDeltaSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "stream",
			Name:      "time_to_first_delta_seconds",
			Help:      "Time from send to first delta in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}),

		RemoteSyncFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "store",
			Name:      "remote_sync_failures_total",
			Help:      "Failed remote conversation operations by op",
		}, []string{"op"}),

		ActiveStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "stream",
			Name:      "active",
			Help:      "Stream sessions currently in flight",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// SessionStarted marks a session in flight.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// SessionFinished records a terminal outcome.
func (m *Metrics) SessionFinished(outcome string) {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
	m.SessionsTotal.WithLabelValues(outcome).Inc()
}

// Delta records one applied delta.
func (m *Metrics) Delta(kind string) {
	if m == nil {
		return
	}
	m.DeltasTotal.WithLabelValues(kind).Inc()
}

// FirstDelta records the latency to the first delta.
func (m *Metrics) FirstDelta(d time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstDeltaSeconds.Observe(d.Seconds())
}

// Usage records reported token usage.
func (m *Metrics) Usage(u *model.Usage) {
	if m == nil || u == nil {
		return
	}
	m.TokensTotal.WithLabelValues("prompt").Add(float64(u.PromptTokens))
	m.TokensTotal.WithLabelValues("completion").Add(float64(u.CompletionTokens))
}

// SyncFailure records a failed remote conversation operation.
func (m *Metrics) SyncFailure(op string) {
	if m == nil {
		return
	}
	m.RemoteSyncFailuresTotal.WithLabelValues(op).Inc()
}
