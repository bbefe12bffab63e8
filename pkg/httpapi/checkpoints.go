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

package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fleettools/squawk/pkg/checkpoint"
	"github.com/fleettools/squawk/pkg/mission"
)

type checkpointCreateRequest struct {
	MissionID       string                       `json:"mission_id"`
	Trigger         checkpoint.Trigger           `json:"trigger,omitempty"`
	ProgressPercent float64                      `json:"progress_percent,omitempty"`
	Sorties         []checkpoint.SortieSnapshot  `json:"sorties,omitempty"`
	ActiveLocks     []checkpoint.LockSnapshot    `json:"active_locks,omitempty"`
	PendingMessages []checkpoint.MessageSnapshot `json:"pending_messages,omitempty"`
	RecoveryContext checkpoint.RecoveryContext   `json:"recovery_context,omitempty"`
	CreatedBy       string                       `json:"created_by,omitempty"`
}

func (h *handlers) checkpointCreate(w http.ResponseWriter, r *http.Request) {
	var req checkpointCreateRequest
	if err := decodeJSON(r, &req); err != nil || req.MissionID == "" {
		writeError(w, http.StatusBadRequest, "mission_id is required")
		return
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = checkpoint.TriggerManual
	}

	cp, err := h.deps.Checkpoints.Create(r.Context(), checkpoint.CreateInput{
		MissionID:       req.MissionID,
		Trigger:         trigger,
		ProgressPercent: req.ProgressPercent,
		Sorties:         req.Sorties,
		ActiveLocks:     req.ActiveLocks,
		PendingMessages: req.PendingMessages,
		RecoveryContext: req.RecoveryContext,
		CreatedBy:       req.CreatedBy,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.deps.Metrics.RecordCheckpointCreated(string(trigger))

	writeJSON(w, http.StatusCreated, map[string]interface{}{"checkpoint": cp})
}

func (h *handlers) checkpointList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	missionID := q.Get("mission_id")
	limit := 20
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	checkpoints, err := h.deps.Checkpoints.List(r.Context(), missionID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"checkpoints": checkpoints})
}

func (h *handlers) checkpointDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cp, err := h.deps.Checkpoints.Get(r.Context(), id)
	if errors.Is(err, checkpoint.ErrNotFound) {
		writeError(w, http.StatusNotFound, "checkpoint not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"checkpoint": cp})
}

type checkpointRecoverRequest struct {
	DryRun bool `json:"dry_run,omitempty"`
}

func (h *handlers) checkpointRecover(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req checkpointRecoverRequest
	_ = decodeJSON(r, &req) // a recover call may legitimately send no body

	cp, err := h.deps.Checkpoints.Get(r.Context(), id)
	if errors.Is(err, checkpoint.ErrNotFound) {
		writeError(w, http.StatusNotFound, "checkpoint not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.DryRun {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":          true,
			"dry_run":          true,
			"recovery_context": cp.RecoveryContext,
			"would_restore": map[string]interface{}{
				"sorties":  len(cp.Sorties),
				"locks":    len(cp.ActiveLocks),
				"messages": len(cp.PendingMessages),
			},
		})
		return
	}

	result, err := h.deps.Recovery.Restore(r.Context(), id)
	if errors.Is(err, checkpoint.ErrNotFound) {
		writeError(w, http.StatusNotFound, "checkpoint not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":          true,
		"recovery_context": cp.RecoveryContext,
		"result":           result,
	})
}

func (h *handlers) checkpointPrune(w http.ResponseWriter, r *http.Request) {
	maxAgeHours := 24 * 7
	keepPerMission := 3
	if v := r.URL.Query().Get("max_age_hours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxAgeHours = n
		}
	}
	if v := r.URL.Query().Get("keep_per_mission"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			keepPerMission = n
		}
	}

	terminal, err := h.terminalMissions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	pruned, err := h.deps.Checkpoints.Prune(r.Context(), time.Duration(maxAgeHours)*time.Hour, keepPerMission, terminal)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"pruned": pruned})
}

// terminalMissions builds the set of mission ids the pruner should
// collapse to a single final checkpoint: completed and cancelled
// missions, fetched a page at a time so a large history never holds one
// unbounded query open.
func (h *handlers) terminalMissions(ctx context.Context) (map[string]bool, error) {
	terminal := make(map[string]bool)
	for _, status := range []mission.Status{mission.StatusCompleted, mission.StatusCancelled} {
		const pageSize = 200
		for offset := 0; ; offset += pageSize {
			missions, total, err := h.deps.Missions.Store().ListMissions(ctx, status, "", pageSize, offset)
			if err != nil {
				return nil, err
			}
			for _, m := range missions {
				terminal[m.ID] = true
			}
			if offset+len(missions) >= total || len(missions) == 0 {
				break
			}
		}
	}
	return terminal, nil
}
