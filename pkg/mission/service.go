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
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fleettools/squawk/pkg/dependency"
	"github.com/fleettools/squawk/pkg/eventstore"
	"github.com/fleettools/squawk/pkg/lock"
)

// SortieInput is one sortie as submitted by the planner's decomposition
// request, before ids or timestamps are assigned.
type SortieInput struct {
	Title               string
	Description         string
	Files               []string
	Dependencies        []int
	Complexity          int
	Type                SortieType
	EstimatedDurationMS int64
}

// DecomposeInput is a planner's mission+sorties submission.
type DecomposeInput struct {
	Title       string
	Description string
	Strategy    Strategy
	Sorties     []SortieInput
}

// Service wires the mission/sortie projection to the event store,
// validating decompositions and keeping projections and events
// consistent in one transaction (data model invariant 6).
type Service struct {
	store   *Store
	events  *eventstore.Store
	db      *sql.DB
	clock   func() time.Time
}

// NewService builds a mission Service over a shared database connection.
func NewService(store *Store, events *eventstore.Store, db *sql.DB) *Service {
	return &Service{store: store, events: events, db: db, clock: time.Now}
}

// Decompose validates and persists a planner's mission+sorties
// submission, emitting a mission_decomposed event in the same
// transaction as the projection writes.
func (s *Service) Decompose(ctx context.Context, in DecomposeInput) (*Mission, []*Sortie, error) {
	if in.Title == "" {
		return nil, nil, &ValidationError{Code: "MISSING_TITLE", Message: "title is required"}
	}
	if len(in.Sorties) == 0 {
		return nil, nil, &ValidationError{Code: "NO_SORTIES", Message: "at least one sortie is required"}
	}

	missionID := uuid.New().String()
	now := s.clock().UTC()

	sorties := make([]*Sortie, len(in.Sorties))
	for i, si := range in.Sorties {
		if si.Complexity < 1 || si.Complexity > 5 {
			return nil, nil, &ValidationError{
				Code: "INVALID_COMPLEXITY", Message: fmt.Sprintf("sortie %d: complexity must be in [1,5]", i),
				Details: map[string]interface{}{"sortie_index": i},
			}
		}
		for _, dep := range si.Dependencies {
			if dep >= i || dep < 0 {
				return nil, nil, &ValidationError{
					Code: "INVALID_DEPENDENCY", Message: fmt.Sprintf("sortie %d: dependency %d must be a strictly smaller index", i, dep),
					Details: map[string]interface{}{"sortie_index": i, "dependency": dep},
				}
			}
		}
		sorties[i] = &Sortie{
			ID:                  SortieID(missionID, i),
			MissionID:           missionID,
			SortieIndex:         i,
			Title:               si.Title,
			Description:         si.Description,
			Files:               si.Files,
			Dependencies:        si.Dependencies,
			Complexity:          si.Complexity,
			Type:                si.Type,
			Status:              SortieStatusPending,
			EstimatedDurationMS: si.EstimatedDurationMS,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
	}

	if err := validateNoFileOverlap(sorties); err != nil {
		return nil, nil, err
	}
	if err := validateAcyclic(sorties); err != nil {
		return nil, nil, err
	}

	m := &Mission{
		ID:           missionID,
		Title:        in.Title,
		Description:  in.Description,
		Strategy:     in.Strategy,
		Status:       StatusPending,
		TotalSorties: len(sorties),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.store.CreateMission(ctx, tx, m, sorties); err != nil {
		return nil, nil, err
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"mission_id": m.ID, "title": m.Title, "sortie_count": len(sorties),
	})
	if _, err := s.events.Append(ctx, tx, eventstore.AppendInput{
		StreamType: "mission", StreamID: m.ID, EventType: "mission_decomposed", Data: payload, OccurredAt: now,
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to record mission_decomposed event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit decomposition: %w", err)
	}
	return m, sorties, nil
}

// validateNoFileOverlap enforces invariant 3: a canonical file path may
// appear in at most one sortie.
func validateNoFileOverlap(sorties []*Sortie) error {
	seen := make(map[string]int)
	for _, sortie := range sorties {
		for _, f := range sortie.Files {
			canonical := lock.CanonicalizeFile(f)
			if owner, ok := seen[canonical]; ok {
				return &ValidationError{
					Code: "FILE_OVERLAP", Message: fmt.Sprintf("file %q claimed by both sortie %d and sortie %d", canonical, owner, sortie.SortieIndex),
					Details: map[string]interface{}{"file": canonical, "sorties": []int{owner, sortie.SortieIndex}},
				}
			}
			seen[canonical] = sortie.SortieIndex
		}
	}
	return nil
}

// validateAcyclic enforces invariant 2 by running the dependency
// resolver's cycle check over the submitted graph.
func validateAcyclic(sorties []*Sortie) error {
	nodes := make([]dependency.Node, len(sorties))
	indexByID := make(map[string]int, len(sorties))
	for i, sortie := range sorties {
		nodes[i] = dependency.Node{ID: sortie.ID, Dependencies: sortie.DependencyIDs()}
		indexByID[sortie.ID] = i
	}
	res := dependency.Resolve(nodes)
	if res.HasCycles {
		cycle := make([]int, len(res.CycleNodes))
		for i, id := range res.CycleNodes {
			cycle[i] = indexByID[id]
		}
		return &ValidationError{
			Code: "CIRCULAR_DEPENDENCY", Message: fmt.Sprintf("cycle detected among sorties: %v", cycle),
			Details: map[string]interface{}{"cycle": cycle},
		}
	}
	return nil
}

// Resolve runs the dependency resolver over a mission's current sorties,
// returning cohort/critical-path scheduling info for the orchestrator.
func (s *Service) Resolve(ctx context.Context, missionID string) (dependency.Result, error) {
	sorties, err := s.store.ListSorties(ctx, missionID, "")
	if err != nil {
		return dependency.Result{}, err
	}
	nodes := make([]dependency.Node, len(sorties))
	for i, sortie := range sorties {
		nodes[i] = dependency.Node{
			ID:                sortie.ID,
			Dependencies:      sortie.DependencyIDs(),
			EstimatedDuration: time.Duration(sortie.EstimatedDurationMS) * time.Millisecond,
		}
	}
	return dependency.Resolve(nodes), nil
}

// UpdateSortieStatus patches status/assigned_to/progress for one sortie
// and rolls the mission's completed_sorties/status forward, emitting a
// sortie_status_changed event alongside.
func (s *Service) UpdateSortieStatus(ctx context.Context, sortieID string, status SortieStatus, assignedTo string, progress int, notes string) (*Sortie, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	sortie, err := s.store.GetSortie(ctx, sortieID)
	if err != nil {
		return nil, err
	}

	wasTerminal := sortie.Status.IsTerminal()
	sortie.Status = status
	if assignedTo != "" {
		sortie.AssignedTo = assignedTo
	}
	sortie.Progress = progress
	if notes != "" {
		sortie.ProgressNotes = notes
	}
	sortie.UpdatedAt = s.clock().UTC()

	if err := s.store.UpdateSortie(ctx, tx, sortie); err != nil {
		return nil, err
	}

	m, err := s.store.GetMission(ctx, sortie.MissionID)
	if err != nil {
		return nil, err
	}
	if !wasTerminal && status.IsTerminal() && status == SortieStatusCompleted {
		m.CompletedSorties++
	}
	if m.Status == StatusPending {
		m.Status = StatusInProgress
	}
	if m.CompletedSorties >= m.TotalSorties && m.TotalSorties > 0 {
		m.Status = StatusCompleted
	}
	m.UpdatedAt = sortie.UpdatedAt
	if err := s.store.UpdateMissionProgress(ctx, tx, m); err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"sortie_id": sortie.ID, "status": string(sortie.Status), "progress": sortie.Progress,
	})
	if _, err := s.events.Append(ctx, tx, eventstore.AppendInput{
		StreamType: "mission", StreamID: sortie.MissionID, EventType: "sortie_status_changed", Data: payload, OccurredAt: sortie.UpdatedAt,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sortie, nil
}

// UpdateMissionStatus patches a mission's status directly (used for
// explicit cancellation via the HTTP API's PATCH endpoint), emitting a
// mission_status_changed event alongside the projection update.
func (s *Service) UpdateMissionStatus(ctx context.Context, missionID string, status Status) (*Mission, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	m, err := s.store.GetMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	m.Status = status
	m.UpdatedAt = s.clock().UTC()
	if err := s.store.UpdateMissionProgress(ctx, tx, m); err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(map[string]interface{}{"mission_id": m.ID, "status": string(m.Status)})
	if _, err := s.events.Append(ctx, tx, eventstore.AppendInput{
		StreamType: "mission", StreamID: m.ID, EventType: "mission_status_changed", Data: payload, OccurredAt: m.UpdatedAt,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return m, nil
}

// Delete removes a mission and its sorties, emitting a mission_deleted
// event in the same transaction as the cascade delete.
func (s *Service) Delete(ctx context.Context, missionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.store.DeleteMission(ctx, tx, missionID); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]interface{}{"mission_id": missionID})
	if _, err := s.events.Append(ctx, tx, eventstore.AppendInput{
		StreamType: "mission", StreamID: missionID, EventType: "mission_deleted", Data: payload, OccurredAt: s.clock().UTC(),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// Store exposes the underlying projection store for read paths (the
// HTTP API lists/queries missions and sorties directly).
func (s *Service) Store() *Store { return s.store }
