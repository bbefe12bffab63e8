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
	"net/http"

	"github.com/fleettools/squawk/pkg/lock"
)

type lockAcquireRequest struct {
	File         string `json:"file"`
	SpecialistID string `json:"specialist_id"`
	TimeoutMS    int64  `json:"timeout_ms,omitempty"`
	Purpose      string `json:"purpose,omitempty"`
}

func (h *handlers) lockAcquire(w http.ResponseWriter, r *http.Request) {
	var req lockAcquireRequest
	if err := decodeJSON(r, &req); err != nil || req.File == "" || req.SpecialistID == "" {
		writeError(w, http.StatusBadRequest, "file and specialist_id are required")
		return
	}
	purpose := lock.Purpose(req.Purpose)
	if purpose == "" {
		purpose = lock.PurposeEdit
	}

	result, err := h.deps.Locks.Acquire(r.Context(), req.SpecialistID, req.File, req.TimeoutMS, purpose)
	var selfConflict *lock.SelfConflictError
	if errors.As(err, &selfConflict) {
		h.deps.Metrics.RecordLockAcquire("conflict")
		writeJSON(w, http.StatusOK, map[string]interface{}{"conflict": true, "existing_lock": result.ExistingLock})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.deps.Metrics.RecordLockAcquire(string(result.Outcome))
	switch result.Outcome {
	case lock.OutcomeAcquired:
		writeJSON(w, http.StatusOK, map[string]interface{}{"lock": result.Lock})
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"conflict": true, "existing_lock": result.ExistingLock, "queue_position": result.QueuePosition,
		})
	}
}

type lockReleaseRequest struct {
	LockID       string `json:"lock_id"`
	SpecialistID string `json:"specialist_id"`
}

func (h *handlers) lockRelease(w http.ResponseWriter, r *http.Request) {
	var req lockReleaseRequest
	if err := decodeJSON(r, &req); err != nil || req.LockID == "" || req.SpecialistID == "" {
		writeError(w, http.StatusBadRequest, "lock_id and specialist_id are required")
		return
	}

	released, err := h.deps.Locks.Release(r.Context(), req.LockID, req.SpecialistID)
	if errors.Is(err, lock.ErrWrongOwner) {
		writeError(w, http.StatusForbidden, "lock is held by a different specialist")
		return
	}
	if errors.Is(err, lock.ErrNotFound) {
		writeError(w, http.StatusNotFound, "lock not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"lock_id": req.LockID, "released": released})
}

func (h *handlers) locksList(w http.ResponseWriter, r *http.Request) {
	active, err := h.deps.Locks.ListActive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.deps.Metrics.SetLocksActive(len(active))
	writeJSON(w, http.StatusOK, map[string]interface{}{"locks": active})
}
