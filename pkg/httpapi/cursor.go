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

	"github.com/go-chi/chi/v5"

	"github.com/fleettools/squawk/pkg/mailbox"
)

type cursorAdvanceRequest struct {
	StreamID   string `json:"stream_id"`
	ConsumerID string `json:"consumer_id"`
	Position   int64  `json:"position"`
}

func (h *handlers) cursorAdvance(w http.ResponseWriter, r *http.Request) {
	var req cursorAdvanceRequest
	if err := decodeJSON(r, &req); err != nil || req.StreamID == "" || req.ConsumerID == "" {
		writeError(w, http.StatusBadRequest, "stream_id and consumer_id are required")
		return
	}

	cursor, err := h.deps.Mail.AdvanceCursor(r.Context(), req.StreamID, req.ConsumerID, req.Position)
	if errors.Is(err, mailbox.ErrNotFound) {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"cursor": cursor})
}

func (h *handlers) cursorRead(w http.ResponseWriter, r *http.Request) {
	cursorID := chi.URLParam(r, "cursorID")

	cursor, err := h.deps.Mail.GetCursor(r.Context(), cursorID)
	if errors.Is(err, mailbox.ErrNotFound) {
		writeError(w, http.StatusNotFound, "cursor not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"cursor": cursor})
}
