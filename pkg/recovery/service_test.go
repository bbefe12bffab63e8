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

package recovery

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleettools/squawk/pkg/checkpoint"
	"github.com/fleettools/squawk/pkg/eventstore"
	"github.com/fleettools/squawk/pkg/lock"
	"github.com/fleettools/squawk/pkg/mailbox"
	"github.com/fleettools/squawk/pkg/mission"
)

type harness struct {
	svc         *Service
	missions    *mission.Service
	checkpoints *checkpoint.Service
	locks       *lock.Coordinator
	mail        *mailbox.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	events, err := eventstore.New(db, "sqlite")
	require.NoError(t, err)

	missionStore, err := mission.New(db, "sqlite")
	require.NoError(t, err)
	missions := mission.NewService(missionStore, events, db)

	storage, err := checkpoint.NewStorage(db, "sqlite", events, t.TempDir())
	require.NoError(t, err)
	checkpoints := checkpoint.NewService(storage)

	locks := lock.New(lock.NewMemoryStore(), lock.Config{DefaultTimeout: time.Minute}, nil)
	mail, err := mailbox.New(db, "sqlite", events)
	require.NoError(t, err)

	svc := NewService(missions, events, checkpoints, locks, mail, db)
	return &harness{svc: svc, missions: missions, checkpoints: checkpoints, locks: locks, mail: mail}
}

func TestRestoreReappliesSortieSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	m, sorties, err := h.missions.Decompose(ctx, mission.DecomposeInput{
		Title: "ship feature", Strategy: mission.StrategyFileBased,
		Sorties: []mission.SortieInput{{Title: "impl", Files: []string{"/a.go"}, Complexity: 2, Type: mission.SortieTypeTask}},
	})
	require.NoError(t, err)

	cp, err := h.checkpoints.Create(ctx, checkpoint.CreateInput{
		MissionID: m.ID, Trigger: checkpoint.TriggerProgress,
		Sorties: []checkpoint.SortieSnapshot{{ID: sorties[0].ID, Status: "in_progress", Progress: 40, ProgressNotes: "halfway"}},
	})
	require.NoError(t, err)

	result, err := h.svc.Restore(ctx, cp.ID)
	require.NoError(t, err)
	require.Equal(t, 1, result.SortiesRestored)

	got, err := h.missions.Store().GetSortie(ctx, sorties[0].ID)
	require.NoError(t, err)
	require.EqualValues(t, mission.SortieStatusInProgress, got.Status)
	require.Equal(t, 40, got.Progress)

	consumed, err := h.checkpoints.Get(ctx, cp.ID)
	require.NoError(t, err)
	require.NotNil(t, consumed.ConsumedAt)
}

func TestRestoreSkipsExpiredLockAndRecordsWarning(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	cp, err := h.checkpoints.Create(ctx, checkpoint.CreateInput{
		MissionID: "m-locks", Trigger: checkpoint.TriggerManual,
		ActiveLocks: []checkpoint.LockSnapshot{
			{ID: "l1", File: "/src/x.go", ReservedBy: "specialist-1", ExpiresAt: time.Now().Add(-time.Minute), Purpose: "edit"},
		},
	})
	require.NoError(t, err)

	result, err := h.svc.Restore(ctx, cp.ID)
	require.NoError(t, err)
	require.Equal(t, 0, result.LocksRestored)
	require.Len(t, result.Warnings, 1)
	require.Contains(t, result.Warnings[0], "Lock expired")
}

func TestRestoreReacquiresUnexpiredLock(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	cp, err := h.checkpoints.Create(ctx, checkpoint.CreateInput{
		MissionID: "m-locks-2", Trigger: checkpoint.TriggerManual,
		ActiveLocks: []checkpoint.LockSnapshot{
			{ID: "l2", File: "/src/y.go", ReservedBy: "specialist-2", ExpiresAt: time.Now().Add(10 * time.Minute), Purpose: "edit"},
		},
	})
	require.NoError(t, err)

	result, err := h.svc.Restore(ctx, cp.ID)
	require.NoError(t, err)
	require.Equal(t, 1, result.LocksRestored)
	require.Empty(t, result.Warnings)

	active, err := h.locks.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "specialist-2", active[0].ReservedBy)
}

func TestRestoreDetectsLockConflict(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	_, err := h.locks.Acquire(ctx, "specialist-other", "/src/z.go", 600000, lock.PurposeEdit)
	require.NoError(t, err)

	cp, err := h.checkpoints.Create(ctx, checkpoint.CreateInput{
		MissionID: "m-locks-3", Trigger: checkpoint.TriggerManual,
		ActiveLocks: []checkpoint.LockSnapshot{
			{ID: "l3", File: "/src/z.go", ReservedBy: "specialist-mine", ExpiresAt: time.Now().Add(10 * time.Minute), Purpose: "edit"},
		},
	})
	require.NoError(t, err)

	result, err := h.svc.Restore(ctx, cp.ID)
	require.NoError(t, err)
	require.Equal(t, 0, result.LocksRestored)
	require.Len(t, result.Warnings, 1)
	require.Contains(t, result.Warnings[0], "Lock conflict")
}

func TestRestoreMessagesIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	cp, err := h.checkpoints.Create(ctx, checkpoint.CreateInput{
		MissionID: "m-mail", Trigger: checkpoint.TriggerManual,
		PendingMessages: []checkpoint.MessageSnapshot{
			{ID: "msg-1", From: "specialist-a", To: []string{"specialist-b"}, Subject: "status", Payload: []byte(`{"ok":true}`)},
		},
	})
	require.NoError(t, err)

	result, err := h.svc.Restore(ctx, cp.ID)
	require.NoError(t, err)
	require.Equal(t, 1, result.MessagesRequeued)

	cp2, err := h.checkpoints.Create(ctx, checkpoint.CreateInput{
		MissionID: "m-mail", Trigger: checkpoint.TriggerManual,
		PendingMessages: []checkpoint.MessageSnapshot{
			{ID: "msg-1", From: "specialist-a", To: []string{"specialist-b"}, Subject: "status", Payload: []byte(`{"ok":true}`)},
		},
	})
	require.NoError(t, err)

	result2, err := h.svc.Restore(ctx, cp2.ID)
	require.NoError(t, err)
	require.Equal(t, 0, result2.MessagesRequeued)
}

func TestStaleScanDetectsInactiveMissionWithCheckpoint(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	m, _, err := h.missions.Decompose(ctx, mission.DecomposeInput{
		Title: "long running", Strategy: mission.StrategyFileBased,
		Sorties: []mission.SortieInput{{Title: "step", Files: []string{"/b.go"}, Complexity: 1, Type: mission.SortieTypeTask}},
	})
	require.NoError(t, err)
	_, err = h.missions.UpdateSortieStatus(ctx, mission.SortieID(m.ID, 0), mission.SortieStatusInProgress, "specialist-1", 10, "")
	require.NoError(t, err)

	_, err = h.checkpoints.Create(ctx, checkpoint.CreateInput{MissionID: m.ID, Trigger: checkpoint.TriggerProgress})
	require.NoError(t, err)

	h.svc.clock = func() time.Time { return time.Now().Add(time.Hour) }

	candidates, err := h.svc.StaleScan(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, m.ID, candidates[0].MissionID)
}

func TestRecoveryTextIncludesStableHeadings(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	cp, err := h.checkpoints.Create(ctx, checkpoint.CreateInput{
		MissionID: "m-text", Trigger: checkpoint.TriggerManual,
		RecoveryContext: checkpoint.RecoveryContext{MissionSummary: "ship feature", NextSteps: []string{"run tests"}},
	})
	require.NoError(t, err)

	text := RecoveryText(cp)
	require.Contains(t, text, "## Recovery Context")
	require.Contains(t, text, "ship feature")
}
