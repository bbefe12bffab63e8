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
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fleettools/squawk/pkg/checkpoint"
	"github.com/fleettools/squawk/pkg/eventstore"
	"github.com/fleettools/squawk/pkg/lock"
	"github.com/fleettools/squawk/pkg/mailbox"
	"github.com/fleettools/squawk/pkg/mission"
)

// Service restores missions from checkpoints and scans for stale ones.
type Service struct {
	missions    *mission.Service
	events      *eventstore.Store
	checkpoints *checkpoint.Service
	locks       *lock.Coordinator
	mail        *mailbox.Store
	db          *sql.DB
	clock       func() time.Time
}

// NewService wires a recovery Service over the shared stores. db must be
// the same connection the event store opened, so sortie restoration and
// the event append share a transaction.
func NewService(missions *mission.Service, events *eventstore.Store, checkpoints *checkpoint.Service,
	locks *lock.Coordinator, mail *mailbox.Store, db *sql.DB) *Service {
	return &Service{missions: missions, events: events, checkpoints: checkpoints, locks: locks, mail: mail, db: db, clock: time.Now}
}

// Restore re-applies a checkpoint's snapshot in one transaction for the
// sortie projection, reconciles locks, re-enqueues pending messages, marks
// the checkpoint consumed, and emits fleet_recovered. Restoring the same
// checkpoint twice is a no-op for already-correct locks and messages.
func (s *Service) Restore(ctx context.Context, checkpointID string) (*RestoreResult, error) {
	cp, err := s.checkpoints.Get(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	now := s.clock().UTC()

	result := &RestoreResult{MissionID: cp.MissionID, CheckpointID: cp.ID}

	if err := s.restoreSorties(ctx, cp, now, result); err != nil {
		return nil, err
	}
	if err := s.restoreLocks(ctx, cp, now, result); err != nil {
		return nil, err
	}
	if err := s.restoreMessages(ctx, cp, now, result); err != nil {
		return nil, err
	}

	if err := s.checkpoints.MarkConsumed(ctx, cp.ID); err != nil {
		return nil, fmt.Errorf("failed to mark checkpoint consumed: %w", err)
	}
	if err := s.emitFleetRecovered(ctx, result, now); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) restoreSorties(ctx context.Context, cp *checkpoint.Checkpoint, now time.Time, result *RestoreResult) error {
	if len(cp.Sorties) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, snap := range cp.Sorties {
		sortie, err := s.missions.Store().GetSortie(ctx, snap.ID)
		if errors.Is(err, mission.ErrNotFound) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("sortie %s no longer exists", snap.ID))
			continue
		}
		if err != nil {
			return err
		}
		sortie.Status = mission.SortieStatus(snap.Status)
		sortie.AssignedTo = snap.AssignedTo
		sortie.Progress = snap.Progress
		sortie.ProgressNotes = snap.ProgressNotes
		sortie.UpdatedAt = now
		if err := s.missions.Store().UpdateSortie(ctx, tx, sortie); err != nil {
			return err
		}
		result.SortiesRestored++
	}
	return tx.Commit()
}

func (s *Service) restoreLocks(ctx context.Context, cp *checkpoint.Checkpoint, now time.Time, result *RestoreResult) error {
	if len(cp.ActiveLocks) == 0 {
		return nil
	}
	active, err := s.locks.ListActive(ctx)
	if err != nil {
		return err
	}
	byFile := make(map[string]*lock.Lock, len(active))
	for _, l := range active {
		byFile[l.File] = l
	}

	for _, snap := range cp.ActiveLocks {
		if !snap.ExpiresAt.After(now) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Lock expired: %s", snap.File))
			continue
		}
		if held, ok := byFile[snap.File]; ok {
			if held.ReservedBy == snap.ReservedBy {
				result.LocksRestored++
			} else {
				result.Warnings = append(result.Warnings, fmt.Sprintf("Lock conflict: %s held by %s", snap.File, held.ReservedBy))
			}
			continue
		}

		remaining := snap.ExpiresAt.Sub(now).Milliseconds()
		res, err := s.locks.Acquire(ctx, snap.ReservedBy, snap.File, remaining, lock.Purpose(snap.Purpose))
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Lock conflict: %s", snap.File))
			continue
		}
		if res.Outcome == lock.OutcomeAcquired {
			result.LocksRestored++
		} else {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Lock conflict: %s", snap.File))
		}
	}
	return nil
}

func (s *Service) restoreMessages(ctx context.Context, cp *checkpoint.Checkpoint, now time.Time, result *RestoreResult) error {
	for _, snap := range cp.PendingMessages {
		if _, err := s.mail.GetMessage(ctx, snap.ID); err == nil {
			continue // already queued with the same id
		} else if !errors.Is(err, mailbox.ErrNotFound) {
			return err
		}

		msg := &mailbox.Message{ID: snap.ID, From: snap.From, To: snap.To, Subject: snap.Subject, Payload: snap.Payload, SentAt: now}
		if err := s.mail.SendMessage(ctx, msg); err != nil {
			return err
		}
		result.MessagesRequeued++
	}
	return nil
}

func (s *Service) emitFleetRecovered(ctx context.Context, result *RestoreResult, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	payload, _ := json.Marshal(map[string]interface{}{
		"mission_id": result.MissionID, "checkpoint_id": result.CheckpointID,
		"sorties_restored": result.SortiesRestored, "locks_restored": result.LocksRestored,
		"messages_requeued": result.MessagesRequeued, "warnings": result.Warnings,
	})
	if _, err := s.events.Append(ctx, tx, eventstore.AppendInput{
		StreamType: "mission", StreamID: result.MissionID, EventType: "fleet_recovered", Data: payload, OccurredAt: now,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// RecoveryText renders a checkpoint's recovery context as the stable
// markdown format intended for direct injection into an LLM prompt.
func RecoveryText(cp *checkpoint.Checkpoint) string {
	return checkpoint.FormatRecoveryText(cp.RecoveryContext.MissionSummary, cp.RecoveryContext)
}
