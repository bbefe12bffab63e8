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

package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fleettools/squawk/pkg/blocker"
	"github.com/fleettools/squawk/pkg/checkpoint"
	"github.com/fleettools/squawk/pkg/lock"
	"github.com/fleettools/squawk/pkg/mailbox"
	"github.com/fleettools/squawk/pkg/mission"
	"github.com/fleettools/squawk/pkg/specialist"
)

// Manager owns one Orchestrator per in-flight mission so the server can
// run many missions concurrently without cross-talk between their
// monitor loops. All orchestrators share the same specialist Registry:
// specialist ids are globally unique, so a single registry is enough to
// let the specialist-tools HTTP layer and every mission's orchestrator
// see the same in-memory specialist state.
type Manager struct {
	cfg         Config
	missions    *mission.Service
	locks       *lock.Coordinator
	specialists *specialist.Registry
	blockers    *blocker.Handler
	checkpoints *checkpoint.Service
	mail        *mailbox.Store
	spawn       Spawner

	mu      sync.Mutex
	running map[string]*Orchestrator
}

// NewManager builds a Manager. specialists is shared with the caller's
// specialist-tools service, not owned by the Manager.
func NewManager(cfg Config, missions *mission.Service, locks *lock.Coordinator, specialists *specialist.Registry,
	blockers *blocker.Handler, checkpoints *checkpoint.Service, mail *mailbox.Store, spawn Spawner) *Manager {
	return &Manager{
		cfg: cfg, missions: missions, locks: locks, specialists: specialists,
		blockers: blockers, checkpoints: checkpoints, mail: mail, spawn: spawn,
		running: make(map[string]*Orchestrator),
	}
}

// Start initializes and runs an orchestrator for missionID, unless one is
// already running for it. Safe to call more than once for the same
// mission (e.g. a retried decompose request).
func (m *Manager) Start(ctx context.Context, missionID string) error {
	m.mu.Lock()
	if _, ok := m.running[missionID]; ok {
		m.mu.Unlock()
		return nil
	}
	o := New(m.cfg, m.missions, m.locks, m.specialists, m.blockers, m.checkpoints, m.mail, m.spawn)
	m.running[missionID] = o
	m.mu.Unlock()

	if err := o.Initialize(ctx, missionID); err != nil {
		m.mu.Lock()
		delete(m.running, missionID)
		m.mu.Unlock()
		return err
	}
	return nil
}

// Get returns the running orchestrator for a mission, if any.
func (m *Manager) Get(missionID string) (*Orchestrator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.running[missionID]
	return o, ok
}

// Count reports how many missions currently have a running orchestrator.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// StopAll cancels every running orchestrator's monitor loop and waits for
// each to emit its final shutdown checkpoint. Called once, at server
// shutdown, after the HTTP listener has stopped accepting new requests.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	orchestrators := make([]*Orchestrator, 0, len(m.running))
	for id, o := range m.running {
		orchestrators = append(orchestrators, o)
		slog.Info("stopping orchestrator", "mission_id", id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, o := range orchestrators {
		wg.Add(1)
		go func(o *Orchestrator) {
			defer wg.Done()
			o.Stop(ctx)
		}(o)
	}
	wg.Wait()
}
