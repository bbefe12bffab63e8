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

// Package checkpoint snapshots a mission's resumable state into a dual
// store: the primary relational database and a JSON file backup under a
// checkpoints directory, each mission keeping a "latest" pointer.
package checkpoint

import "time"

// Trigger is why a checkpoint was created.
type Trigger string

const (
	TriggerProgress Trigger = "progress"
	TriggerError    Trigger = "error"
	TriggerManual   Trigger = "manual"
)

// SortieSnapshot is one non-terminal sortie's state at checkpoint time.
type SortieSnapshot struct {
	ID            string   `json:"id"`
	Status        string   `json:"status"`
	AssignedTo    string   `json:"assigned_to,omitempty"`
	Files         []string `json:"files"`
	Progress      int      `json:"progress"`
	ProgressNotes string   `json:"progress_notes,omitempty"`
}

// LockSnapshot is one active lock's state at checkpoint time.
type LockSnapshot struct {
	ID         string    `json:"id"`
	File       string    `json:"file"`
	ReservedBy string    `json:"reserved_by"`
	ReservedAt time.Time `json:"reserved_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Purpose    string    `json:"purpose"`
	TimeoutMS  int64     `json:"timeout_ms"`
}

// MessageSnapshot is one undelivered message at checkpoint time.
type MessageSnapshot struct {
	ID      string   `json:"id"`
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject,omitempty"`
	Payload []byte   `json:"payload,omitempty"`
}

// RecoveryContext is natural-language-adjacent structured data intended
// for direct injection into an LLM prompt on session resume.
type RecoveryContext struct {
	LastAction     string    `json:"last_action"`
	NextSteps      []string  `json:"next_steps"`
	Blockers       []string  `json:"blockers"`
	FilesModified  []string  `json:"files_modified"`
	MissionSummary string    `json:"mission_summary"`
	ElapsedTimeMS  int64     `json:"elapsed_time_ms"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Checkpoint is a snapshot sufficient to resume a mission.
type Checkpoint struct {
	ID              string            `json:"id"`
	MissionID       string            `json:"mission_id"`
	Timestamp       time.Time         `json:"timestamp"`
	Trigger         Trigger           `json:"trigger"`
	ProgressPercent float64           `json:"progress_percent"`
	Sorties         []SortieSnapshot  `json:"sorties"`
	ActiveLocks     []LockSnapshot    `json:"active_locks"`
	PendingMessages []MessageSnapshot `json:"pending_messages"`
	RecoveryContext RecoveryContext   `json:"recovery_context"`
	CreatedBy       string            `json:"created_by"`
	ConsumedAt      *time.Time        `json:"consumed_at,omitempty"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	Version         int               `json:"version"`
}

// CurrentVersion is stamped onto every checkpoint created by this build;
// never branched on (single schema version assumed, per the data
// model's non-goals).
const CurrentVersion = 1
