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

package checkpoint

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleettools/squawk/pkg/eventstore"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	events, err := eventstore.New(db, "sqlite")
	require.NoError(t, err)

	dataRoot := t.TempDir()
	storage, err := NewStorage(db, "sqlite", events, dataRoot)
	require.NoError(t, err)

	return NewService(storage), dataRoot
}

func TestCreateAndGetLatest(t *testing.T) {
	svc, dataRoot := newTestService(t)

	cp, err := svc.Create(t.Context(), CreateInput{
		MissionID: "mission-1", Trigger: TriggerProgress, ProgressPercent: 50,
		Sorties: []SortieSnapshot{{ID: "mission-1.0", Status: "in_progress", Progress: 50}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, cp.ID)

	got, err := svc.GetLatest(t.Context(), "mission-1")
	require.NoError(t, err)
	require.Equal(t, cp.ID, got.ID)

	// file backup exists
	_, err = os.Stat(filepath.Join(dataRoot, "checkpoints", "mission-1", "latest.json"))
	require.NoError(t, err)
}

func TestGetLatestFallsBackToFileOnPrimaryMiss(t *testing.T) {
	svc, dataRoot := newTestService(t)
	cp, err := svc.Create(t.Context(), CreateInput{MissionID: "mission-2", Trigger: TriggerManual})
	require.NoError(t, err)

	// Simulate the primary row disappearing; the file backup must still
	// resolve GetLatest.
	_, err = svc.storage.db.Exec("DELETE FROM checkpoints WHERE id = ?", cp.ID)
	require.NoError(t, err)

	got, err := svc.GetLatest(t.Context(), "mission-2")
	require.NoError(t, err)
	require.Equal(t, cp.ID, got.ID)
	_ = dataRoot
}

func TestPruneKeepsMostRecentPerMission(t *testing.T) {
	svc, _ := newTestService(t)
	var ids []string
	for i := 0; i < 5; i++ {
		cp, err := svc.Create(t.Context(), CreateInput{MissionID: "mission-3", Trigger: TriggerProgress})
		require.NoError(t, err)
		ids = append(ids, cp.ID)
	}

	deleted, err := svc.Prune(t.Context(), -time.Hour, 3, nil)
	require.NoError(t, err)
	require.Equal(t, 2, deleted)

	remaining, err := svc.List(t.Context(), "mission-3", 0)
	require.NoError(t, err)
	require.Len(t, remaining, 3)
}

func TestPruneCollapsesTerminalMissionToOne(t *testing.T) {
	svc, _ := newTestService(t)
	for i := 0; i < 3; i++ {
		_, err := svc.Create(t.Context(), CreateInput{MissionID: "mission-4", Trigger: TriggerProgress})
		require.NoError(t, err)
	}

	deleted, err := svc.Prune(t.Context(), -time.Hour, 3, map[string]bool{"mission-4": true})
	require.NoError(t, err)
	require.Equal(t, 2, deleted)

	remaining, err := svc.List(t.Context(), "mission-4", 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
}

func TestFormatRecoveryTextHeadings(t *testing.T) {
	text := FormatRecoveryText("add auth feature", RecoveryContext{
		LastAction: "completed schema migration",
		NextSteps:  []string{"wire middleware"},
		Blockers:   nil,
		FilesModified: []string{"/db/schema.sql"},
	})
	require.Contains(t, text, "## Recovery Context")
	require.Contains(t, text, "**Mission**: add auth feature")
	require.Contains(t, text, "### Next Steps")
	require.Contains(t, text, "### Blockers")
	require.Contains(t, text, "### Files Modified")
}
