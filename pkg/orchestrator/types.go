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

// Package orchestrator owns a mission's execution lifecycle: spawning
// specialists for eligible sorties, monitoring heartbeats, driving
// blocker resolution, coordinating locks, and triggering checkpoints.
package orchestrator

import "time"

// State is the orchestrator's own lifecycle state, distinct from the
// mission's projected status.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Config controls timing defaults for one orchestrator instance.
type Config struct {
	HeartbeatTimeout   time.Duration
	CheckpointInterval time.Duration
	MonitorInterval    time.Duration
}

// SpawnRequest is what the orchestrator asks its caller (the process
// that actually forks/execs agent runners) to do for one sortie.
type SpawnRequest struct {
	SpecialistID string
	SortieID     string
	Files        []string
}

// Spawner forks an agent runner process for a sortie. It is supplied by
// the caller (cmd/squawkd) since the core treats agent runners as
// external collaborators invoked over HTTP and child-process stdio.
type Spawner func(req SpawnRequest) error
