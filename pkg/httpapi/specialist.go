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
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fleettools/squawk/pkg/blocker"
	"github.com/fleettools/squawk/pkg/lock"
	"github.com/fleettools/squawk/pkg/specialisttools"
)

type specialistRegisterRequest struct {
	SpecialistID string   `json:"specialist_id"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities,omitempty"`
	MissionID    string   `json:"mission_id,omitempty"`
	SortieID     string   `json:"sortie_id,omitempty"`
}

func (h *handlers) specialistRegister(w http.ResponseWriter, r *http.Request) {
	var req specialistRegisterRequest
	if err := decodeJSON(r, &req); err != nil || req.SpecialistID == "" {
		writeError(w, http.StatusBadRequest, "specialist_id is required")
		return
	}

	result, err := h.deps.Tools.Register(r.Context(), specialisttools.RegisterInput{
		SpecialistID: req.SpecialistID, Name: req.Name, Capabilities: req.Capabilities,
		MissionID: req.MissionID, SortieID: req.SortieID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type specialistReserveRequest struct {
	SpecialistID string       `json:"specialist_id"`
	Files        []string     `json:"files"`
	TimeoutMS    int64        `json:"timeout_ms,omitempty"`
	Purpose      lock.Purpose `json:"purpose,omitempty"`
}

func (h *handlers) specialistReserve(w http.ResponseWriter, r *http.Request) {
	var req specialistReserveRequest
	if err := decodeJSON(r, &req); err != nil || req.SpecialistID == "" || len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, "specialist_id and at least one file are required")
		return
	}

	result, err := h.deps.Tools.Reserve(r.Context(), specialisttools.ReserveInput{
		SpecialistID: req.SpecialistID, Files: req.Files, TimeoutMS: req.TimeoutMS, Purpose: req.Purpose,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type specialistProgressRequest struct {
	SpecialistID string `json:"specialist_id"`
	SortieID     string `json:"sortie_id"`
	Percent      int    `json:"percent"`
	Notes        string `json:"notes,omitempty"`
}

func (h *handlers) specialistProgress(w http.ResponseWriter, r *http.Request) {
	var req specialistProgressRequest
	if err := decodeJSON(r, &req); err != nil || req.SpecialistID == "" || req.SortieID == "" {
		writeError(w, http.StatusBadRequest, "specialist_id and sortie_id are required")
		return
	}

	sortie, err := h.deps.Tools.Progress(r.Context(), specialisttools.ProgressInput{
		SpecialistID: req.SpecialistID, SortieID: req.SortieID, Percent: req.Percent, Notes: req.Notes,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"sortie": sortie})
}

type specialistCompleteRequest struct {
	SpecialistID string   `json:"specialist_id"`
	SortieID     string   `json:"sortie_id"`
	FilesTouched []string `json:"files_touched,omitempty"`
}

func (h *handlers) specialistComplete(w http.ResponseWriter, r *http.Request) {
	var req specialistCompleteRequest
	if err := decodeJSON(r, &req); err != nil || req.SpecialistID == "" || req.SortieID == "" {
		writeError(w, http.StatusBadRequest, "specialist_id and sortie_id are required")
		return
	}

	result, err := h.deps.Tools.Complete(r.Context(), specialisttools.CompleteInput{
		SpecialistID: req.SpecialistID, SortieID: req.SortieID, FilesTouched: req.FilesTouched,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type specialistBlockedRequest struct {
	SpecialistID     string      `json:"specialist_id"`
	SortieID         string      `json:"sortie_id"`
	Kind             blocker.Kind `json:"kind"`
	Description      string      `json:"description,omitempty"`
	RetryCount       int         `json:"retry_count,omitempty"`
	AffectedSortieID string      `json:"affected_sortie_id,omitempty"`
}

func (h *handlers) specialistBlocked(w http.ResponseWriter, r *http.Request) {
	var req specialistBlockedRequest
	if err := decodeJSON(r, &req); err != nil || req.SpecialistID == "" || req.SortieID == "" {
		writeError(w, http.StatusBadRequest, "specialist_id and sortie_id are required")
		return
	}

	resolution, err := h.deps.Tools.Blocked(r.Context(), specialisttools.BlockedInput{
		SpecialistID: req.SpecialistID, SortieID: req.SortieID, Kind: req.Kind,
		Description: req.Description, RetryCount: req.RetryCount, AffectedSortieID: req.AffectedSortieID,
	})
	h.deps.Metrics.RecordBlockerResolution(string(req.Kind), string(resolution.Status))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resolution)
}

type specialistSquawkRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject,omitempty"`
	Payload []byte   `json:"payload,omitempty"`
}

func (h *handlers) specialistSquawk(w http.ResponseWriter, r *http.Request) {
	var req specialistSquawkRequest
	if err := decodeJSON(r, &req); err != nil || req.From == "" || len(req.To) == 0 {
		writeError(w, http.StatusBadRequest, "from and at least one recipient are required")
		return
	}

	msg, err := h.deps.Tools.Squawk(r.Context(), specialisttools.SquawkSendInput{
		From: req.From, To: req.To, Subject: req.Subject, Payload: req.Payload,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.deps.Metrics.RecordMessageSent(req.Subject)

	writeJSON(w, http.StatusOK, map[string]interface{}{"message": msg})
}

func (h *handlers) specialistSquawkReceive(w http.ResponseWriter, r *http.Request) {
	specialistID := chi.URLParam(r, "specialistID")

	messages, err := h.deps.Tools.SquawkReceive(r.Context(), specialistID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}
