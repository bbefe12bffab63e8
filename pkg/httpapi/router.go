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
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/fleettools/squawk/pkg/checkpoint"
	"github.com/fleettools/squawk/pkg/lock"
	"github.com/fleettools/squawk/pkg/mailbox"
	"github.com/fleettools/squawk/pkg/metrics"
	"github.com/fleettools/squawk/pkg/mission"
	"github.com/fleettools/squawk/pkg/orchestrator"
	"github.com/fleettools/squawk/pkg/recovery"
	"github.com/fleettools/squawk/pkg/specialisttools"
)

// Deps is everything the HTTP API needs; it talks to every store through
// the owning package's service, never around it, so API handlers read via
// the database projection rather than any in-process shared state (the
// concurrency model's shared-resource policy).
type Deps struct {
	DB            *sql.DB
	Missions      *mission.Service
	Locks         *lock.Coordinator
	Mail          *mailbox.Store
	Checkpoints   *checkpoint.Service
	Recovery      *recovery.Service
	Tools         *specialisttools.Service
	Orchestrators *orchestrator.Manager
	Metrics       *metrics.Metrics

	// RequestTimeout bounds every handler invocation (default 30s).
	RequestTimeout time.Duration
}

// NewRouter builds the full chi router for the coordination server.
func NewRouter(deps Deps) http.Handler {
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(permissiveCORS)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}
	r.Use(chimiddleware.Timeout(deps.RequestTimeout))

	h := &handlers{deps: deps}

	r.Get("/health", h.health)
	r.Handle("/metrics", deps.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/mailbox/append", h.mailboxAppend)
		r.Get("/mailbox/{streamID}", h.mailboxRead)

		r.Post("/cursor/advance", h.cursorAdvance)
		r.Get("/cursor/{cursorID}", h.cursorRead)

		r.Post("/lock/acquire", h.lockAcquire)
		r.Post("/lock/release", h.lockRelease)
		r.Get("/locks", h.locksList)

		r.Get("/coordinator/status", h.coordinatorStatus)

		r.Post("/missions/decompose", h.missionsDecompose)
		r.Get("/missions", h.missionsList)
		r.Get("/missions/{id}", h.missionDetail)
		r.Get("/missions/{id}/sorties", h.missionSorties)
		r.Patch("/missions/{id}", h.missionPatch)
		r.Delete("/missions/{id}", h.missionDelete)

		r.Patch("/sorties/{id}", h.sortiePatch)

		r.Post("/checkpoints", h.checkpointCreate)
		r.Get("/checkpoints", h.checkpointList)
		r.Get("/checkpoints/{id}", h.checkpointDetail)
		r.Post("/checkpoints/{id}/recover", h.checkpointRecover)
		r.Post("/checkpoints/prune", h.checkpointPrune)

		r.Post("/specialist/register", h.specialistRegister)
		r.Post("/specialist/reserve", h.specialistReserve)
		r.Post("/specialist/progress", h.specialistProgress)
		r.Post("/specialist/complete", h.specialistComplete)
		r.Post("/specialist/blocked", h.specialistBlocked)
		r.Post("/specialist/squawk", h.specialistSquawk)
		r.Get("/specialist/squawk/{specialistID}", h.specialistSquawkReceive)
	})

	return r
}

type handlers struct {
	deps Deps
}

// permissiveCORS allows any origin, matching the spec's "CORS permissive"
// requirement; this server has no authN/Z surface to protect (non-goal).
func permissiveCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
