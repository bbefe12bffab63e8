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

package mission

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleettools/squawk/pkg/eventstore"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	events, err := eventstore.New(db, "sqlite")
	require.NoError(t, err)

	store, err := New(db, "sqlite")
	require.NoError(t, err)

	return NewService(store, events, db)
}

func TestDecomposeLinearChain(t *testing.T) {
	svc := newTestService(t)

	m, sorties, err := svc.Decompose(t.Context(), DecomposeInput{
		Title:    "add auth",
		Strategy: StrategyFeatureBased,
		Sorties: []SortieInput{
			{Title: "schema", Files: []string{"/db/schema.sql"}, Complexity: 2, Type: SortieTypeTask},
			{Title: "middleware", Files: []string{"/src/auth.ts"}, Dependencies: []int{0}, Complexity: 3, Type: SortieTypeFeature},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 2, m.TotalSorties)
	require.Len(t, sorties, 2)

	got, err := svc.Store().GetMission(t.Context(), m.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}

func TestDecomposeRejectsFileOverlap(t *testing.T) {
	svc := newTestService(t)
	_, _, err := svc.Decompose(t.Context(), DecomposeInput{
		Title: "conflicting",
		Sorties: []SortieInput{
			{Title: "a", Files: []string{"/src/x.ts"}, Complexity: 1, Type: SortieTypeTask},
			{Title: "b", Files: []string{"/src/x.ts"}, Complexity: 1, Type: SortieTypeTask},
		},
	})
	require.Error(t, err)
	require.True(t, IsValidationError(err))
}

func TestDecomposeRejectsForwardDependency(t *testing.T) {
	svc := newTestService(t)
	_, _, err := svc.Decompose(t.Context(), DecomposeInput{
		Title: "bad deps",
		Sorties: []SortieInput{
			{Title: "a", Dependencies: []int{1}, Complexity: 1, Type: SortieTypeTask},
			{Title: "b", Complexity: 1, Type: SortieTypeTask},
		},
	})
	require.Error(t, err)
	require.True(t, IsValidationError(err))
}

func TestUpdateSortieStatusCompletesMission(t *testing.T) {
	svc := newTestService(t)
	m, sorties, err := svc.Decompose(t.Context(), DecomposeInput{
		Title: "single",
		Sorties: []SortieInput{
			{Title: "only", Complexity: 1, Type: SortieTypeTask},
		},
	})
	require.NoError(t, err)

	_, err = svc.UpdateSortieStatus(t.Context(), sorties[0].ID, SortieStatusCompleted, "specialist-1", 100, "done")
	require.NoError(t, err)

	got, err := svc.Store().GetMission(t.Context(), m.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, 1, got.CompletedSorties)
}

func TestResolveReturnsTopologicalOrder(t *testing.T) {
	svc := newTestService(t)
	m, _, err := svc.Decompose(t.Context(), DecomposeInput{
		Title: "chain",
		Sorties: []SortieInput{
			{Title: "a", Complexity: 1, Type: SortieTypeTask},
			{Title: "b", Dependencies: []int{0}, Complexity: 1, Type: SortieTypeTask},
		},
	})
	require.NoError(t, err)

	res, err := svc.Resolve(t.Context(), m.ID)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, []string{m.ID + ".0", m.ID + ".1"}, res.TopologicalOrder)
}
