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

package orchestrator

import (
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleettools/squawk/pkg/blocker"
	"github.com/fleettools/squawk/pkg/checkpoint"
	"github.com/fleettools/squawk/pkg/eventstore"
	"github.com/fleettools/squawk/pkg/lock"
	"github.com/fleettools/squawk/pkg/mailbox"
	"github.com/fleettools/squawk/pkg/mission"
	"github.com/fleettools/squawk/pkg/specialist"
)

type testHarness struct {
	orch      *Orchestrator
	missions  *mission.Service
	spawnedMu sync.Mutex
	spawned   []SpawnRequest
}

func (h *testHarness) spawn(req SpawnRequest) error {
	h.spawnedMu.Lock()
	defer h.spawnedMu.Unlock()
	h.spawned = append(h.spawned, req)
	return nil
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	events, err := eventstore.New(db, "sqlite")
	require.NoError(t, err)

	missionStore, err := mission.New(db, "sqlite")
	require.NoError(t, err)
	missions := mission.NewService(missionStore, events, db)

	mail, err := mailbox.New(db, "sqlite", events)
	require.NoError(t, err)

	locks := lock.New(lock.NewMemoryStore(), lock.Config{}, nil)
	specialists := specialist.NewRegistry()
	checkpoints := checkpoint.NewService(mustStorage(t, db, events))
	blockers := blocker.New(blocker.DefaultBackoffPolicy(), nil)

	h := &testHarness{missions: missions}
	h.orch = New(Config{}, missions, locks, specialists, blockers, checkpoints, mail, h.spawn)
	return h
}

func mustStorage(t *testing.T, db *sql.DB, events *eventstore.Store) *checkpoint.Storage {
	t.Helper()
	storage, err := checkpoint.NewStorage(db, "sqlite", events, t.TempDir())
	require.NoError(t, err)
	return storage
}

func TestInitializeSpawnsOnlyRootSorties(t *testing.T) {
	h := newTestHarness(t)
	ctx := t.Context()

	m, _, err := h.missions.Decompose(ctx, mission.DecomposeInput{
		Title: "wire auth", Strategy: mission.StrategyFileBased,
		Sorties: []mission.SortieInput{
			{Title: "schema", Files: []string{"/db/schema.sql"}, Complexity: 2, Type: mission.SortieTypeTask},
			{Title: "middleware", Files: []string{"/auth/mw.go"}, Complexity: 3, Type: mission.SortieTypeTask, Dependencies: []int{0}},
		},
	})
	require.NoError(t, err)

	require.NoError(t, h.orch.Initialize(ctx, m.ID))
	defer h.orch.Stop(ctx)

	require.Len(t, h.spawned, 1)
	require.Equal(t, mission.SortieID(m.ID, 0), h.spawned[0].SortieID)
}

func TestOnSpecialistCompleteSpawnsNextCohort(t *testing.T) {
	h := newTestHarness(t)
	ctx := t.Context()

	m, _, err := h.missions.Decompose(ctx, mission.DecomposeInput{
		Title: "wire auth", Strategy: mission.StrategyFileBased,
		Sorties: []mission.SortieInput{
			{Title: "schema", Files: []string{"/db/schema.sql"}, Complexity: 2, Type: mission.SortieTypeTask},
			{Title: "middleware", Files: []string{"/auth/mw.go"}, Complexity: 3, Type: mission.SortieTypeTask, Dependencies: []int{0}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, h.orch.Initialize(ctx, m.ID))
	defer h.orch.Stop(ctx)

	require.Len(t, h.spawned, 1)
	first := h.spawned[0]

	require.NoError(t, h.orch.OnSpecialistComplete(ctx, first.SpecialistID, first.SortieID))

	require.Len(t, h.spawned, 2)
	require.Equal(t, mission.SortieID(m.ID, 1), h.spawned[1].SortieID)

	second := h.spawned[1]
	require.NoError(t, h.orch.OnSpecialistComplete(ctx, second.SpecialistID, second.SortieID))

	got, err := h.missions.Store().GetMission(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, mission.StatusCompleted, got.Status)
}

func TestCoordinateLocksLogsOverlapWithoutErroring(t *testing.T) {
	h := newTestHarness(t)
	sorties := []*mission.Sortie{
		{ID: "m.0", Files: []string{"/src/a.go"}},
		{ID: "m.1", Files: []string{"/src/a.go"}},
	}
	h.orch.CoordinateLocks(sorties) // must not panic
}

func TestResolveBlockerDelegatesToHandler(t *testing.T) {
	h := newTestHarness(t)
	resolution := h.orch.ResolveBlocker(t.Context(), "specialist-1", blocker.Report{
		Kind: blocker.KindLockTimeout, RetryCount: 0,
	})
	require.Equal(t, blocker.StatusRetrying, resolution.Status)
}
