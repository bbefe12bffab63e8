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

// Package specialisttools implements the six narrow request/response
// contracts agent-runner processes use to talk to the coordination
// server over HTTP: register, reserve, progress, complete, blocked, and
// squawk. Each composes the mission/lock/mailbox/checkpoint services
// rather than touching their stores directly.
package specialisttools

import (
	"time"

	"github.com/fleettools/squawk/pkg/blocker"
	"github.com/fleettools/squawk/pkg/checkpoint"
	"github.com/fleettools/squawk/pkg/lock"
)

// RegisterInput announces a specialist as ready to work.
type RegisterInput struct {
	SpecialistID string
	Name         string
	Capabilities []string
	MissionID    string
	SortieID     string
}

// RegisterResult acknowledges registration and, for a previously-known
// agent on a mission with an unconsumed checkpoint, surfaces that
// checkpoint's recovery context so the agent can self-inject it.
type RegisterResult struct {
	Acknowledged    bool
	PreviouslyKnown bool
	RecoveryContext *checkpoint.RecoveryContext
}

// ReserveInput asks to lock one or more files for a sortie.
type ReserveInput struct {
	SpecialistID string
	Files        []string
	TimeoutMS    int64
	Purpose      lock.Purpose
}

// ReserveResult reports the outcome per requested file.
type ReserveResult struct {
	Granted   []*lock.Lock
	Conflicts []ReserveConflict
}

// ReserveConflict names a file that could not be granted and why.
type ReserveConflict struct {
	File    string
	Holder  string
	QueuedAt int // 1-based queue position, 0 if not queued (self-conflict)
}

// ProgressInput reports incremental work on a sortie.
type ProgressInput struct {
	SpecialistID string
	SortieID     string
	Percent      int
	Notes        string
}

// CompleteInput reports a sortie as finished, releasing its locks.
type CompleteInput struct {
	SpecialistID string
	SortieID     string
	FilesTouched []string
}

// CompleteResult reports what completion cleaned up.
type CompleteResult struct {
	SortieID     string
	LocksReleased int
}

// BlockedInput reports a blocker encountered while working a sortie.
type BlockedInput struct {
	SpecialistID     string
	SortieID         string
	Kind             blocker.Kind
	Description      string
	RetryCount       int
	AffectedSortieID string
}

// SquawkSendInput sends a message to one or more peer specialists.
type SquawkSendInput struct {
	From    string
	To      []string
	Subject string
	Payload []byte
}

// SquawkMessage is one message returned to a polling recipient.
type SquawkMessage struct {
	ID        string
	From      string
	Subject   string
	Payload   []byte
	SentAt    time.Time
	Delivered bool
}
