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

// Package httpapi exposes the coordination server's HTTP surface: health,
// mailbox/cursor, lock, mission/sortie, and checkpoint endpoints, routed
// with chi and instrumented with the metrics middleware.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, details ...string) {
	body := map[string]interface{}{"error": message}
	if len(details) > 0 {
		body["details"] = details
	}
	writeJSON(w, status, body)
}

// apiError is one entry in a validation-rejection response's errors list:
// a machine-readable code plus whatever structured data accompanies it
// (e.g. the cyclic sortie indices for CIRCULAR_DEPENDENCY).
type apiError struct {
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

// writeErrors emits the `{errors:[{code,details}, ...]}` shape used for
// rejected requests whose failures are machine-readable (validation
// failures), as opposed to writeError's single human-readable message.
func writeErrors(w http.ResponseWriter, status int, errs ...apiError) {
	writeJSON(w, status, map[string]interface{}{"errors": errs})
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
