// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics collects Prometheus metrics for the coordination server
// and serves them over /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleettools/squawk/pkg/config"
)

// Metrics holds every Prometheus collector the server exposes. A nil
// *Metrics is safe to call methods on; every method is a no-op so callers
// never need to guard on whether metrics are enabled.
type Metrics struct {
	namespace string
	registry  *prometheus.Registry

	// Lock metrics
	locksActive  prometheus.Gauge
	lockAcquires *prometheus.CounterVec
	lockWaitTime prometheus.Histogram

	// Mission metrics
	missionsByStatus *prometheus.GaugeVec
	sortiesByStatus  *prometheus.GaugeVec

	// Checkpoint metrics
	checkpointAge    *prometheus.GaugeVec
	checkpointsTotal *prometheus.CounterVec

	// Blocker metrics
	blockerResolutions *prometheus.CounterVec

	// Mailbox metrics
	messagesSent *prometheus.CounterVec

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New builds a Metrics instance from configuration. It returns nil
// when metrics are disabled, matching the nil-receiver no-op methods below.
func New(cfg config.MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}

	m := &Metrics{
		namespace: cfg.Namespace,
		registry:  prometheus.NewRegistry(),
	}

	m.initLockMetrics()
	m.initMissionMetrics()
	m.initCheckpointMetrics()
	m.initBlockerMetrics()
	m.initMailboxMetrics()
	m.initHTTPMetrics()

	return m
}

func (m *Metrics) initLockMetrics() {
	m.locksActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "lock",
		Name:      "active",
		Help:      "Number of currently held file locks.",
	})

	m.lockAcquires = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "lock",
		Name:      "acquires_total",
		Help:      "Total lock acquire attempts by outcome.",
	}, []string{"outcome"})

	m.lockWaitTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "lock",
		Name:      "wait_seconds",
		Help:      "Time a queued waiter spent before acquiring a lock.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to 204s
	})

	m.registry.MustRegister(m.locksActive, m.lockAcquires, m.lockWaitTime)
}

func (m *Metrics) initMissionMetrics() {
	m.missionsByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "mission",
		Name:      "active",
		Help:      "Number of missions currently in each status.",
	}, []string{"status"})

	m.sortiesByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "sortie",
		Name:      "active",
		Help:      "Number of sorties currently in each status.",
	}, []string{"status"})

	m.registry.MustRegister(m.missionsByStatus, m.sortiesByStatus)
}

func (m *Metrics) initCheckpointMetrics() {
	m.checkpointAge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "checkpoint",
		Name:      "age_seconds",
		Help:      "Age of the most recent checkpoint for a mission, in seconds.",
	}, []string{"mission_id"})

	m.checkpointsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "checkpoint",
		Name:      "created_total",
		Help:      "Total checkpoints created by trigger.",
	}, []string{"trigger"})

	m.registry.MustRegister(m.checkpointAge, m.checkpointsTotal)
}

func (m *Metrics) initBlockerMetrics() {
	m.blockerResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "blocker",
		Name:      "resolutions_total",
		Help:      "Total blocker resolutions by kind and outcome status.",
	}, []string{"kind", "status"})

	m.registry.MustRegister(m.blockerResolutions)
}

func (m *Metrics) initMailboxMetrics() {
	m.messagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "mailbox",
		Name:      "messages_sent_total",
		Help:      "Total messages appended to the mailbox.",
	}, []string{"subject"})

	m.registry.MustRegister(m.messagesSent)
}

func (m *Metrics) initHTTPMetrics() {
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests by method, route and status class.",
	}, []string{"method", "route", "status"})

	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	m.registry.MustRegister(m.httpRequests, m.httpDuration)
}

// SetLocksActive reports the current number of held locks.
func (m *Metrics) SetLocksActive(n int) {
	if m == nil {
		return
	}
	m.locksActive.Set(float64(n))
}

// RecordLockAcquire records the outcome of a lock acquire attempt.
func (m *Metrics) RecordLockAcquire(outcome string) {
	if m == nil {
		return
	}
	m.lockAcquires.WithLabelValues(outcome).Inc()
}

// RecordLockWait records how long a waiter queued before acquiring a lock.
func (m *Metrics) RecordLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWaitTime.Observe(d.Seconds())
}

// SetMissionsByStatus replaces the active-mission gauge for one status.
func (m *Metrics) SetMissionsByStatus(status string, count int) {
	if m == nil {
		return
	}
	m.missionsByStatus.WithLabelValues(status).Set(float64(count))
}

// SetSortiesByStatus replaces the active-sortie gauge for one status.
func (m *Metrics) SetSortiesByStatus(status string, count int) {
	if m == nil {
		return
	}
	m.sortiesByStatus.WithLabelValues(status).Set(float64(count))
}

// SetCheckpointAge reports the age of a mission's most recent checkpoint.
func (m *Metrics) SetCheckpointAge(missionID string, age time.Duration) {
	if m == nil {
		return
	}
	m.checkpointAge.WithLabelValues(missionID).Set(age.Seconds())
}

// RecordCheckpointCreated records a checkpoint creation by trigger.
func (m *Metrics) RecordCheckpointCreated(trigger string) {
	if m == nil {
		return
	}
	m.checkpointsTotal.WithLabelValues(trigger).Inc()
}

// RecordBlockerResolution records a blocker resolution outcome.
func (m *Metrics) RecordBlockerResolution(kind, status string) {
	if m == nil {
		return
	}
	m.blockerResolutions.WithLabelValues(kind, status).Inc()
}

// RecordMessageSent records a mailbox message append.
func (m *Metrics) RecordMessageSent(subject string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(subject).Inc()
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusClassLabel(statusCode)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func statusClassLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// Handler returns the HTTP handler serving the Prometheus exposition
// format. A nil Metrics responds 503, so routers can wire it in
// unconditionally.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
