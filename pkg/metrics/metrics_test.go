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

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/fleettools/squawk/pkg/config"
)

func TestNewDisabledReturnsNil(t *testing.T) {
	m := New(config.MetricsConfig{Enabled: false})
	require.Nil(t, m)

	// Nil receiver methods must not panic.
	m.SetLocksActive(3)
	m.RecordBlockerResolution("lock_timeout", "retrying")
	require.Equal(t, http.StatusServiceUnavailable, recordStatus(t, m.Handler()))
}

func TestRecordLockAcquireIncrementsCounter(t *testing.T) {
	m := New(config.MetricsConfig{Enabled: true, Namespace: "squawk"})
	require.NotNil(t, m)

	m.RecordLockAcquire("acquired")
	m.RecordLockAcquire("acquired")
	m.RecordLockAcquire("queued")

	require.Equal(t, float64(2), testutil.ToFloat64(m.lockAcquires.WithLabelValues("acquired")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.lockAcquires.WithLabelValues("queued")))
}

func TestSetMissionsByStatusOverwrites(t *testing.T) {
	m := New(config.MetricsConfig{Enabled: true, Namespace: "squawk"})
	require.NotNil(t, m)

	m.SetMissionsByStatus("in_progress", 4)
	m.SetMissionsByStatus("in_progress", 2)

	require.Equal(t, float64(2), testutil.ToFloat64(m.missionsByStatus.WithLabelValues("in_progress")))
}

func TestMiddlewareRecordsRoutePatternNotRawPath(t *testing.T) {
	m := New(config.MetricsConfig{Enabled: true, Namespace: "squawk"})
	require.NotNil(t, m)

	router := chi.NewRouter()
	router.Use(m.Middleware)
	router.Get("/v1/missions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/missions/abc123", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, float64(1), testutil.ToFloat64(
		m.httpRequests.WithLabelValues(http.MethodGet, "/v1/missions/{id}", "2xx")))
}

func recordStatus(t *testing.T, h http.Handler) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Code
}
