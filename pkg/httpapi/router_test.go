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

package httpapi

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleettools/squawk/pkg/blocker"
	"github.com/fleettools/squawk/pkg/checkpoint"
	"github.com/fleettools/squawk/pkg/config"
	"github.com/fleettools/squawk/pkg/eventstore"
	"github.com/fleettools/squawk/pkg/lock"
	"github.com/fleettools/squawk/pkg/mailbox"
	"github.com/fleettools/squawk/pkg/metrics"
	"github.com/fleettools/squawk/pkg/mission"
	"github.com/fleettools/squawk/pkg/recovery"
	"github.com/fleettools/squawk/pkg/specialist"
	"github.com/fleettools/squawk/pkg/specialisttools"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	events, err := eventstore.New(db, "sqlite")
	require.NoError(t, err)

	missionStore, err := mission.New(db, "sqlite")
	require.NoError(t, err)
	missionSvc := mission.NewService(missionStore, events, db)

	lockStore, err := lock.NewSQLStore(db, "sqlite")
	require.NoError(t, err)
	lockCoord := lock.New(lockStore, lock.Config{DefaultTimeout: 300000}, nil)

	mailStore, err := mailbox.New(db, "sqlite", events)
	require.NoError(t, err)

	cpStorage, err := checkpoint.NewStorage(db, "sqlite", events, t.TempDir())
	require.NoError(t, err)
	cpSvc := checkpoint.NewService(cpStorage)

	recoverySvc := recovery.NewService(missionSvc, events, cpSvc, lockCoord, mailStore, db)

	registry := specialist.NewRegistry()
	blockerHandler := blocker.New(blocker.DefaultBackoffPolicy(), nil)
	tools := specialisttools.NewService(missionSvc, lockCoord, mailStore, cpSvc, registry, blockerHandler)

	m := metrics.New(config.MetricsConfig{Enabled: true, Namespace: "squawk_test"})

	return NewRouter(Deps{
		DB: db, Missions: missionSvc, Locks: lockCoord, Mail: mailStore,
		Checkpoints: cpSvc, Recovery: recoverySvc, Tools: tools, Metrics: m,
	})
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealthReportsOK(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestMissionDecomposeAndDetail(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/missions/decompose", map[string]interface{}{
		"title":    "refactor auth",
		"strategy": "feature-based",
		"sorties": []map[string]interface{}{
			{"title": "schema", "files": []string{"/db/schema.sql"}, "complexity": 2, "type": "task"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	tree := created["sortie_tree"].(map[string]interface{})
	m := tree["mission"].(map[string]interface{})
	id := m["ID"].(string)
	require.NotEmpty(t, id)

	detail := doJSON(t, r, http.MethodGet, "/api/v1/missions/"+id, nil)
	require.Equal(t, http.StatusOK, detail.Code)
}

func TestMissionDecomposeRejectsInvalidDependency(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/missions/decompose", map[string]interface{}{
		"title": "broken",
		"sorties": []map[string]interface{}{
			{"title": "only", "complexity": 1, "type": "task", "dependencies": []int{0}},
		},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLockAcquireThenConflict(t *testing.T) {
	r := newTestRouter(t)

	first := doJSON(t, r, http.MethodPost, "/api/v1/lock/acquire", map[string]interface{}{
		"file": "/src/auth.go", "specialist_id": "spec-a", "timeout_ms": 60000,
	})
	require.Equal(t, http.StatusOK, first.Code)

	second := doJSON(t, r, http.MethodPost, "/api/v1/lock/acquire", map[string]interface{}{
		"file": "/src/auth.go", "specialist_id": "spec-b", "timeout_ms": 60000,
	})
	require.Equal(t, http.StatusOK, second.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	require.Equal(t, true, body["conflict"])
}

func TestMailboxAppendAndReadNotFound(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/mailbox/unknown-stream", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCoordinatorStatusReportsZeroInitially(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/coordinator/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, float64(0), body["active_mailboxes"])
	require.Equal(t, float64(0), body["active_locks"])
}
