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
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fleettools/squawk/pkg/mailbox"
)

type appendEventRequest struct {
	Type        string `json:"type"`
	Data        json.RawMessage `json:"data"`
	CausationID string `json:"causation_id,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

type mailboxAppendRequest struct {
	StreamID string               `json:"stream_id"`
	Events   []appendEventRequest `json:"events"`
}

func (h *handlers) mailboxAppend(w http.ResponseWriter, r *http.Request) {
	var req mailboxAppendRequest
	if err := decodeJSON(r, &req); err != nil || req.StreamID == "" || len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "stream_id and at least one event are required")
		return
	}

	events := make([]mailbox.AppendEvent, len(req.Events))
	for i, e := range req.Events {
		if e.Type == "" {
			writeError(w, http.StatusBadRequest, "event type is required")
			return
		}
		events[i] = mailbox.AppendEvent{
			Type: e.Type, Data: []byte(e.Data), CausationID: e.CausationID, Metadata: []byte(e.Metadata),
		}
	}

	stored, err := h.deps.Mail.Append(r.Context(), req.StreamID, events)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	mb, err := h.deps.Mail.GetMailbox(r.Context(), req.StreamID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mailbox":  map[string]interface{}{"id": mb.ID, "created_at": mb.CreatedAt, "updated_at": mb.UpdatedAt, "events": stored},
		"inserted": len(events),
	})
}

func (h *handlers) mailboxRead(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")

	mb, err := h.deps.Mail.GetMailbox(r.Context(), streamID)
	if errors.Is(err, mailbox.ErrNotFound) {
		writeError(w, http.StatusNotFound, "mailbox not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	events, err := h.deps.Mail.ReadStream(r.Context(), streamID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mailbox": map[string]interface{}{"id": mb.ID, "created_at": mb.CreatedAt, "updated_at": mb.UpdatedAt, "events": events},
	})
}
