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

package specialisttools

import (
	"database/sql"
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

func newTestService(t *testing.T) (*Service, *mission.Service) {
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

	registry := specialist.NewRegistry()
	blockerHandler := blocker.New(blocker.DefaultBackoffPolicy(), nil)

	return NewService(missionSvc, lockCoord, mailStore, cpSvc, registry, blockerHandler), missionSvc
}

func TestRegisterFirstTimeHasNoRecoveryContext(t *testing.T) {
	svc, _ := newTestService(t)

	result, err := svc.Register(t.Context(), RegisterInput{SpecialistID: "spec-1", Name: "worker"})
	require.NoError(t, err)
	require.True(t, result.Acknowledged)
	require.False(t, result.PreviouslyKnown)
	require.Nil(t, result.RecoveryContext)
}

func TestReserveGrantsThenConflicts(t *testing.T) {
	svc, _ := newTestService(t)

	result, err := svc.Reserve(t.Context(), ReserveInput{
		SpecialistID: "spec-1", Files: []string{"/src/a.go"}, TimeoutMS: 60000,
	})
	require.NoError(t, err)
	require.Len(t, result.Granted, 1)
	require.Empty(t, result.Conflicts)

	second, err := svc.Reserve(t.Context(), ReserveInput{
		SpecialistID: "spec-2", Files: []string{"/src/a.go"}, TimeoutMS: 60000,
	})
	require.NoError(t, err)
	require.Empty(t, second.Granted)
	require.Len(t, second.Conflicts, 1)
	require.Equal(t, "spec-1", second.Conflicts[0].Holder)
}

func TestCompleteReleasesTouchedLocks(t *testing.T) {
	svc, missionSvc := newTestService(t)

	m, sorties, err := missionSvc.Decompose(t.Context(), mission.DecomposeInput{
		Title: "m", Sorties: []mission.SortieInput{
			{Title: "s0", Files: []string{"/src/a.go"}, Complexity: 1, Type: mission.SortieTypeTask},
		},
	})
	require.NoError(t, err)
	require.Len(t, sorties, 1)

	_, err = svc.Reserve(t.Context(), ReserveInput{SpecialistID: "spec-1", Files: []string{"/src/a.go"}, TimeoutMS: 60000})
	require.NoError(t, err)

	result, err := svc.Complete(t.Context(), CompleteInput{
		SpecialistID: "spec-1", SortieID: sorties[0].ID, FilesTouched: []string{"/src/a.go"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.LocksReleased)

	got, err := missionSvc.Store().GetMission(t.Context(), m.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.CompletedSorties)
}

func TestBlockedClassifiesAndMarksSpecialist(t *testing.T) {
	svc, missionSvc := newTestService(t)

	_, sorties, err := missionSvc.Decompose(t.Context(), mission.DecomposeInput{
		Title: "m", Sorties: []mission.SortieInput{
			{Title: "s0", Complexity: 1, Type: mission.SortieTypeTask},
		},
	})
	require.NoError(t, err)

	_, err = svc.Register(t.Context(), RegisterInput{SpecialistID: "spec-1", Name: "worker"})
	require.NoError(t, err)

	resolution, err := svc.Blocked(t.Context(), BlockedInput{
		SpecialistID: "spec-1", SortieID: sorties[0].ID, Kind: blocker.KindLockTimeout, RetryCount: 0,
	})
	require.NoError(t, err)
	require.Equal(t, blocker.StatusRetrying, resolution.Status)
}

func TestSquawkSendAndReceive(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Squawk(t.Context(), SquawkSendInput{From: "spec-1", To: []string{"spec-2"}, Subject: "hello"})
	require.NoError(t, err)

	received, err := svc.SquawkReceive(t.Context(), "spec-2")
	require.NoError(t, err)
	require.Len(t, received, 1)
	require.Equal(t, "hello", received[0].Subject)

	again, err := svc.SquawkReceive(t.Context(), "spec-2")
	require.NoError(t, err)
	require.Empty(t, again)
}
