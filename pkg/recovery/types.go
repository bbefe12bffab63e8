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

// Package recovery detects stalled missions and restores them from a
// checkpoint: re-applying sortie state, reconciling locks, re-enqueuing
// pending messages, and marking the checkpoint consumed.
package recovery

import "time"

// StaleCandidate is an in_progress mission whose latest event is older
// than the activity threshold and which has an unconsumed checkpoint.
type StaleCandidate struct {
	MissionID    string
	CheckpointID string
	LastEventAt  time.Time
}

// RestoreResult is the outcome of restoring one checkpoint.
type RestoreResult struct {
	MissionID        string
	CheckpointID     string
	SortiesRestored  int
	LocksRestored    int
	MessagesRequeued int
	Warnings         []string
}
