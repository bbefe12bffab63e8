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
	"context"
	"errors"
	"time"

	"github.com/fleettools/squawk/pkg/blocker"
	"github.com/fleettools/squawk/pkg/checkpoint"
	"github.com/fleettools/squawk/pkg/lock"
	"github.com/fleettools/squawk/pkg/mailbox"
	"github.com/fleettools/squawk/pkg/mission"
	"github.com/fleettools/squawk/pkg/specialist"
)

// Service wires the six specialist-facing operations over the shared
// mission/lock/mailbox/checkpoint services and the orchestrator's
// specialist registry.
type Service struct {
	missions     *mission.Service
	locks        *lock.Coordinator
	mail         *mailbox.Store
	checkpoints  *checkpoint.Service
	specialists  *specialist.Registry
	blockers     *blocker.Handler
	clock        func() time.Time
}

// NewService builds a Service. specialists is the same registry the
// orchestrator spawns into, so a register call from an agent runner and
// the orchestrator's own bookkeeping observe one another.
func NewService(missions *mission.Service, locks *lock.Coordinator, mail *mailbox.Store,
	checkpoints *checkpoint.Service, specialists *specialist.Registry, blockers *blocker.Handler) *Service {
	return &Service{
		missions: missions, locks: locks, mail: mail, checkpoints: checkpoints,
		specialists: specialists, blockers: blockers, clock: time.Now,
	}
}

// Register announces a specialist as ready to work, binding it to a
// sortie. If the specialist id was already tracked (a reconnect after a
// crash or restart) and an unconsumed checkpoint exists for its
// mission, the checkpoint's recovery context is attached so the agent
// can self-inject it, per spec §4.9.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	_, err := s.specialists.Get(in.SpecialistID)
	previouslyKnown := err == nil

	s.specialists.Register(&specialist.Specialist{
		ID: in.SpecialistID, Name: in.Name, Capabilities: in.Capabilities,
		SortieID: in.SortieID, Status: specialist.StatusRegistered, LastHeartbeat: s.clock(),
	})

	result := &RegisterResult{Acknowledged: true, PreviouslyKnown: previouslyKnown}
	if !previouslyKnown || in.MissionID == "" {
		return result, nil
	}

	cp, err := s.checkpoints.GetLatest(ctx, in.MissionID)
	if err != nil {
		return result, nil // no checkpoint yet is not an error for registration
	}
	if cp.ConsumedAt == nil {
		rc := cp.RecoveryContext
		result.RecoveryContext = &rc
	}
	return result, nil
}

// Reserve attempts to acquire a lock on every requested file, returning
// the granted locks and, for each unavailable file, a conflict
// descriptor (per-file, not all-or-nothing — a specialist decides for
// itself whether a partial grant is workable).
func (s *Service) Reserve(ctx context.Context, in ReserveInput) (*ReserveResult, error) {
	purpose := in.Purpose
	if purpose == "" {
		purpose = lock.PurposeEdit
	}

	result := &ReserveResult{}
	for _, file := range in.Files {
		acquired, err := s.locks.Acquire(ctx, in.SpecialistID, file, in.TimeoutMS, purpose)
		var selfConflict *lock.SelfConflictError
		if errors.As(err, &selfConflict) {
			result.Conflicts = append(result.Conflicts, ReserveConflict{File: file, Holder: in.SpecialistID})
			continue
		}
		if err != nil {
			return nil, err
		}
		switch acquired.Outcome {
		case lock.OutcomeAcquired:
			result.Granted = append(result.Granted, acquired.Lock)
		default:
			holder := ""
			if acquired.ExistingLock != nil {
				holder = acquired.ExistingLock.ReservedBy
			}
			result.Conflicts = append(result.Conflicts, ReserveConflict{File: file, Holder: holder, QueuedAt: acquired.QueuePosition})
		}
	}
	return result, nil
}

// Progress records incremental work on a sortie and refreshes the
// specialist's heartbeat/progress in the orchestrator's registry.
func (s *Service) Progress(ctx context.Context, in ProgressInput) (*mission.Sortie, error) {
	sortie, err := s.missions.UpdateSortieStatus(ctx, in.SortieID, mission.SortieStatusInProgress, in.SpecialistID, in.Percent, in.Notes)
	if err != nil {
		return nil, err
	}
	_ = s.specialists.Heartbeat(in.SpecialistID, s.clock(), in.Percent, specialist.StatusWorking)
	return sortie, nil
}

// Complete marks a sortie finished, releases every active lock the
// specialist holds among the files it touched (or all of its active
// locks, if FilesTouched is empty), and retires the specialist from the
// orchestrator's registry.
func (s *Service) Complete(ctx context.Context, in CompleteInput) (*CompleteResult, error) {
	if _, err := s.missions.UpdateSortieStatus(ctx, in.SortieID, mission.SortieStatusCompleted, in.SpecialistID, 100, ""); err != nil {
		return nil, err
	}

	touched := make(map[string]bool, len(in.FilesTouched))
	for _, f := range in.FilesTouched {
		touched[lock.CanonicalizeFile(f)] = true
	}

	active, err := s.locks.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	released := 0
	for _, l := range active {
		if l.ReservedBy != in.SpecialistID {
			continue
		}
		if len(touched) > 0 && !touched[l.File] {
			continue
		}
		if ok, err := s.locks.Release(ctx, l.ID, in.SpecialistID); err == nil && ok {
			released++
		}
	}

	_ = s.specialists.MarkTerminal(in.SpecialistID, specialist.StatusCompleted)
	return &CompleteResult{SortieID: in.SortieID, LocksReleased: released}, nil
}

// Blocked reports a blocker on a sortie, classifies it via the blocker
// handler, marks the specialist blocked, and returns the resolution
// (retry/wait/escalate hint) for the agent to act on.
func (s *Service) Blocked(ctx context.Context, in BlockedInput) (blocker.Resolution, error) {
	resolution := s.blockers.Resolve(blocker.Report{
		SpecialistID: in.SpecialistID, Kind: in.Kind, Description: in.Description,
		RetryCount: in.RetryCount, AffectedSortieID: in.AffectedSortieID,
	})

	if _, err := s.missions.UpdateSortieStatus(ctx, in.SortieID, mission.SortieStatusBlocked, in.SpecialistID, 0, in.Description); err != nil {
		return resolution, err
	}
	_ = s.specialists.MarkBlocked(in.SpecialistID, in.Description)
	return resolution, nil
}

// Squawk sends an inter-specialist message.
func (s *Service) Squawk(ctx context.Context, in SquawkSendInput) (*mailbox.Message, error) {
	msg := mailbox.NewMessage(in.From, in.To, in.Subject, in.Payload)
	if err := s.mail.SendMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// SquawkReceive returns a recipient's pending (undelivered) messages and
// marks them delivered.
func (s *Service) SquawkReceive(ctx context.Context, specialistID string) ([]*mailbox.Message, error) {
	pending, err := s.mail.PendingMessagesTo(ctx, specialistID)
	if err != nil {
		return nil, err
	}
	for _, msg := range pending {
		if err := s.mail.MarkDelivered(ctx, msg.ID); err != nil {
			return nil, err
		}
	}
	return pending, nil
}
