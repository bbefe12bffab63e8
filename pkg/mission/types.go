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

// Package mission manages the Mission and Sortie entities: a decomposed
// user task and the individual work units within it.
package mission

import (
	"strconv"
	"time"
)

// Strategy is how a mission's sorties were decomposed.
type Strategy string

const (
	StrategyFileBased    Strategy = "file-based"
	StrategyFeatureBased Strategy = "feature-based"
	StrategyRiskBased    Strategy = "risk-based"
	StrategyResearchBased Strategy = "research-based"
)

// Status is a mission's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Mission is a decomposed user task.
type Mission struct {
	ID              string
	Title           string
	Description     string
	Strategy        Strategy
	Status          Status
	TotalSorties    int
	CompletedSorties int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SortieType classifies the kind of work a sortie performs.
type SortieType string

const (
	SortieTypeTask    SortieType = "task"
	SortieTypeFeature SortieType = "feature"
	SortieTypeBugfix  SortieType = "bugfix"
	SortieTypeChore   SortieType = "chore"
)

// SortieStatus is a sortie's lifecycle state.
type SortieStatus string

const (
	SortieStatusPending     SortieStatus = "pending"
	SortieStatusAssigned    SortieStatus = "assigned"
	SortieStatusInProgress  SortieStatus = "in_progress"
	SortieStatusCompleted   SortieStatus = "completed"
	SortieStatusBlocked     SortieStatus = "blocked"
	SortieStatusFailed      SortieStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s SortieStatus) IsTerminal() bool {
	return s == SortieStatusCompleted || s == SortieStatusFailed
}

// Sortie is a single work unit within a mission.
//
// ID is always "<mission_id>.<sortie_index>". Dependencies are indices
// into the mission's own sortie list, each strictly less than
// SortieIndex (invariant 2 of the data model).
type Sortie struct {
	ID                 string
	MissionID          string
	SortieIndex        int
	Title              string
	Description        string
	Files              []string
	Dependencies       []int
	Complexity         int // 1..5
	Type               SortieType
	Status             SortieStatus
	AssignedTo         string
	Progress           int // 0..100
	ProgressNotes      string
	EstimatedDurationMS int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DependencyIDs returns the sortie's dependencies as full sortie ids
// ("<mission_id>.<index>"), the form the dependency resolver operates on.
func (s *Sortie) DependencyIDs() []string {
	ids := make([]string, len(s.Dependencies))
	for i, d := range s.Dependencies {
		ids[i] = SortieID(s.MissionID, d)
	}
	return ids
}

// SortieID formats a sortie id from its mission and index.
func SortieID(missionID string, index int) string {
	return missionID + "." + strconv.Itoa(index)
}
