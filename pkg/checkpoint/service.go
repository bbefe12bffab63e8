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
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service builds and persists checkpoints and runs the retention sweep.
type Service struct {
	storage *Storage
	clock   func() time.Time
}

// NewService wraps a Storage with checkpoint construction and pruning.
func NewService(storage *Storage) *Service {
	return &Service{storage: storage, clock: time.Now}
}

// CreateInput is everything the caller (the orchestrator, or a manual
// API request) must supply to build a checkpoint; the service itself
// only assigns the id, timestamp, and version.
type CreateInput struct {
	MissionID       string
	Trigger         Trigger
	ProgressPercent float64
	Sorties         []SortieSnapshot
	ActiveLocks     []LockSnapshot
	PendingMessages []MessageSnapshot
	RecoveryContext RecoveryContext
	CreatedBy       string
}

// Create builds and persists a checkpoint, returning it.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Checkpoint, error) {
	if in.MissionID == "" {
		return nil, fmt.Errorf("mission_id is required")
	}
	cp := &Checkpoint{
		ID:              uuid.New().String(),
		MissionID:       in.MissionID,
		Timestamp:       s.clock().UTC(),
		Trigger:         in.Trigger,
		ProgressPercent: in.ProgressPercent,
		Sorties:         in.Sorties,
		ActiveLocks:     in.ActiveLocks,
		PendingMessages: in.PendingMessages,
		RecoveryContext: in.RecoveryContext,
		CreatedBy:       in.CreatedBy,
		Version:         CurrentVersion,
	}
	if err := s.storage.Save(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// Get returns a checkpoint by id.
func (s *Service) Get(ctx context.Context, id string) (*Checkpoint, error) {
	return s.storage.Get(ctx, id)
}

// GetLatest returns a mission's most recent checkpoint.
func (s *Service) GetLatest(ctx context.Context, missionID string) (*Checkpoint, error) {
	return s.storage.GetLatest(ctx, missionID)
}

// List returns checkpoints, optionally scoped to one mission.
func (s *Service) List(ctx context.Context, missionID string, limit int) ([]*Checkpoint, error) {
	return s.storage.List(ctx, missionID, limit)
}

// Prune runs the retention sweep: delete checkpoints older than
// maxAge, always keeping keepPerMission most recent, and collapsing
// terminal missions down to their single final checkpoint. Safe to run
// at startup and on a daily timer; it issues only bounded per-mission
// queries, never blocking foreground operations on a long scan.
func (s *Service) Prune(ctx context.Context, maxAge time.Duration, keepPerMission int, terminalMissions map[string]bool) (int, error) {
	cutoff := s.clock().UTC().Add(-maxAge)
	return s.storage.Prune(ctx, cutoff, keepPerMission, terminalMissions)
}

// MarkConsumed records that recovery has consumed a checkpoint
// (at-most-once consumption).
func (s *Service) MarkConsumed(ctx context.Context, id string) error {
	return s.storage.MarkConsumed(ctx, id, s.clock().UTC())
}
