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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fleettools/squawk/pkg/mission"
)

type sortieRequest struct {
	Title               string          `json:"title"`
	Description         string          `json:"description,omitempty"`
	Files               []string        `json:"files,omitempty"`
	Dependencies        []int           `json:"dependencies,omitempty"`
	Complexity          int             `json:"complexity"`
	Type                mission.SortieType `json:"type,omitempty"`
	EstimatedDurationMS int64           `json:"estimated_duration_ms,omitempty"`
}

type missionsDecomposeRequest struct {
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Strategy    mission.Strategy `json:"strategy,omitempty"`
	Sorties     []sortieRequest  `json:"sorties"`
}

func (h *handlers) missionsDecompose(w http.ResponseWriter, r *http.Request) {
	var req missionsDecomposeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	in := mission.DecomposeInput{Title: req.Title, Description: req.Description, Strategy: req.Strategy}
	in.Sorties = make([]mission.SortieInput, len(req.Sorties))
	for i, s := range req.Sorties {
		in.Sorties[i] = mission.SortieInput{
			Title: s.Title, Description: s.Description, Files: s.Files, Dependencies: s.Dependencies,
			Complexity: s.Complexity, Type: s.Type, EstimatedDurationMS: s.EstimatedDurationMS,
		}
	}

	m, sorties, err := h.deps.Missions.Decompose(r.Context(), in)
	if verr, ok := mission.AsValidationError(err); ok {
		writeErrors(w, http.StatusBadRequest, apiError{Code: verr.Code, Details: verr.Details})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if h.deps.Orchestrators != nil {
		if err := h.deps.Orchestrators.Start(r.Context(), m.ID); err != nil {
			slog.Warn("failed to start orchestrator for decomposed mission", "mission_id", m.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":     true,
		"sortie_tree": map[string]interface{}{"mission": m, "sorties": sorties},
	})
}

func (h *handlers) missionsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := mission.Status(q.Get("status"))
	strategy := mission.Strategy(q.Get("strategy"))
	limit, offset := parseLimitOffset(q, 50)

	missions, total, err := h.deps.Missions.Store().ListMissions(r.Context(), status, strategy, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"missions": missions, "total": total, "limit": limit, "offset": offset,
	})
}

func (h *handlers) missionDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	m, err := h.deps.Missions.Store().GetMission(r.Context(), id)
	if errors.Is(err, mission.ErrNotFound) {
		writeError(w, http.StatusNotFound, "mission not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"mission": m})
}

func (h *handlers) missionSorties(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status := mission.SortieStatus(r.URL.Query().Get("status"))
	sorties, err := h.deps.Missions.Store().ListSorties(r.Context(), id, status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	res, err := h.deps.Missions.Resolve(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	parallelizable, blocked := sortieCohorts(sorties)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sorties":         sorties,
		"parallelizable":  parallelizable,
		"blocked":         blocked,
		"critical_path":   res.CriticalPath,
	})
}

// sortieCohorts derives the "ready to run now" and "blocked" index lists
// from live sortie state: a pending sortie is parallelizable once every
// dependency it lists has completed; a sortie is blocked if it is marked
// so directly, or if any dependency has failed.
func sortieCohorts(sorties []*mission.Sortie) (parallelizable, blocked []int) {
	statusByIndex := make(map[int]mission.SortieStatus, len(sorties))
	for _, s := range sorties {
		statusByIndex[s.SortieIndex] = s.Status
	}

	for _, s := range sorties {
		if s.Status == mission.SortieStatusBlocked {
			blocked = append(blocked, s.SortieIndex)
			continue
		}
		if s.Status != mission.SortieStatusPending {
			continue
		}
		ready := true
		for _, dep := range s.Dependencies {
			switch statusByIndex[dep] {
			case mission.SortieStatusCompleted:
				// satisfied
			case mission.SortieStatusFailed:
				blocked = append(blocked, s.SortieIndex)
				ready = false
			default:
				ready = false
			}
		}
		if ready {
			parallelizable = append(parallelizable, s.SortieIndex)
		}
	}
	return parallelizable, blocked
}

type missionPatchRequest struct {
	Status mission.Status `json:"status"`
}

func (h *handlers) missionPatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req missionPatchRequest
	if err := decodeJSON(r, &req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	m, err := h.deps.Missions.UpdateMissionStatus(r.Context(), id, req.Status)
	if errors.Is(err, mission.ErrNotFound) {
		writeError(w, http.StatusNotFound, "mission not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"mission": m})
}

func (h *handlers) missionDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.deps.Missions.Delete(r.Context(), id); err != nil {
		if errors.Is(err, mission.ErrNotFound) {
			writeError(w, http.StatusNotFound, "mission not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type sortiePatchRequest struct {
	Status     mission.SortieStatus `json:"status"`
	AssignedTo string               `json:"assigned_to,omitempty"`
	Progress   int                  `json:"progress,omitempty"`
	Notes      string               `json:"notes,omitempty"`
}

func (h *handlers) sortiePatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req sortiePatchRequest
	if err := decodeJSON(r, &req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	sortie, err := h.deps.Missions.UpdateSortieStatus(r.Context(), id, req.Status, req.AssignedTo, req.Progress, req.Notes)
	if errors.Is(err, mission.ErrNotFound) {
		writeError(w, http.StatusNotFound, "sortie not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"sortie": sortie})
}

func parseLimitOffset(q map[string][]string, defaultLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := q["limit"]; len(v) > 0 {
		if n, err := strconv.Atoi(v[0]); err == nil && n > 0 {
			limit = n
		}
	}
	if v := q["offset"]; len(v) > 0 {
		if n, err := strconv.Atoi(v[0]); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
