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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fleettools/squawk/pkg/blocker"
	"github.com/fleettools/squawk/pkg/checkpoint"
	"github.com/fleettools/squawk/pkg/lock"
	"github.com/fleettools/squawk/pkg/mailbox"
	"github.com/fleettools/squawk/pkg/mission"
	"github.com/fleettools/squawk/pkg/specialist"
)

// Orchestrator drives one mission's execution from decomposition
// through completion.
type Orchestrator struct {
	cfg     Config
	missions *mission.Service
	locks    *lock.Coordinator
	specialists *specialist.Registry
	blockers *blocker.Handler
	checkpoints *checkpoint.Service
	mail     *mailbox.Store
	spawn    Spawner
	clock    func() time.Time

	mu                sync.Mutex
	state             State
	missionID         string
	lastCheckpointAt  time.Time
	lastCheckpointQuartile int

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds an Orchestrator for one mission.
func New(cfg Config, missions *mission.Service, locks *lock.Coordinator, specialists *specialist.Registry,
	blockers *blocker.Handler, checkpoints *checkpoint.Service, mail *mailbox.Store, spawn Spawner) *Orchestrator {
	return &Orchestrator{
		cfg: cfg, missions: missions, locks: locks, specialists: specialists,
		blockers: blockers, checkpoints: checkpoints, mail: mail, spawn: spawn,
		clock: time.Now, state: StateIdle,
	}
}

// State returns the orchestrator's current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Initialize transitions idle -> running for missionID, spawns the
// first eligible cohort, and starts the monitor loop.
func (o *Orchestrator) Initialize(ctx context.Context, missionID string) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: already initialized (state=%s)", o.state)
	}
	o.missionID = missionID
	o.state = StateRunning
	o.lastCheckpointAt = o.clock()
	o.mu.Unlock()

	if err := o.spawnSpecialists(ctx); err != nil {
		return fmt.Errorf("failed to spawn initial specialists: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.wg.Add(1)
	go o.monitorLoop(runCtx)
	return nil
}

// Stop cancels the monitor loop and, per the shutdown contract, emits a
// final manual-trigger checkpoint before returning.
func (o *Orchestrator) Stop(ctx context.Context) {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	if o.missionID != "" {
		if _, err := o.createCheckpoint(ctx, checkpoint.TriggerManual); err != nil {
			slog.Warn("final shutdown checkpoint failed", "mission_id", o.missionID, "error", err)
		}
	}
}

func (o *Orchestrator) monitorLoop(ctx context.Context) {
	defer o.wg.Done()
	interval := o.cfg.MonitorInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.monitorProgress(ctx)
		}
	}
}

// spawnSpecialists registers and requests a spawn for every pending
// sortie allowed by the current dependency cohort.
func (o *Orchestrator) spawnSpecialists(ctx context.Context) error {
	res, err := o.missions.Resolve(ctx, o.missionID)
	if err != nil {
		return err
	}
	if res.HasCycles || !res.Success {
		return fmt.Errorf("orchestrator: mission %s has an unresolved dependency graph", o.missionID)
	}

	sorties, err := o.missions.Store().ListSorties(ctx, o.missionID, mission.SortieStatusPending)
	if err != nil {
		return err
	}
	if len(sorties) == 0 {
		return nil
	}

	// Only spawn sorties in the lowest pending cohort whose dependencies
	// are all already completed.
	completed := make(map[string]bool)
	all, err := o.missions.Store().ListSorties(ctx, o.missionID, "")
	if err != nil {
		return err
	}
	for _, s := range all {
		if s.Status == mission.SortieStatusCompleted {
			completed[s.ID] = true
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sortie := range sorties {
		eligible := true
		for _, depID := range sortie.DependencyIDs() {
			if !completed[depID] {
				eligible = false
				break
			}
		}
		if !eligible {
			continue
		}

		sortie := sortie
		specialistID := uuid.New().String()
		o.specialists.Register(&specialist.Specialist{
			ID: specialistID, SortieID: sortie.ID, Status: specialist.StatusSpawned, LastHeartbeat: o.clock(),
		})

		g.Go(func() error {
			if o.spawn == nil {
				return nil
			}
			if err := o.spawn(SpawnRequest{SpecialistID: specialistID, SortieID: sortie.ID, Files: sortie.Files}); err != nil {
				return fmt.Errorf("failed to spawn specialist for sortie %s: %w", sortie.ID, err)
			}
			return nil
		})

		if _, err := o.missions.UpdateSortieStatus(gctx, sortie.ID, mission.SortieStatusAssigned, specialistID, 0, ""); err != nil {
			return err
		}
		slog.Info("specialist_spawned", "mission_id", o.missionID, "sortie_id", sortie.ID, "specialist_id", specialistID)
	}
	return g.Wait()
}

// monitorProgress marks stale specialists failed and triggers an
// interval checkpoint when due.
func (o *Orchestrator) monitorProgress(ctx context.Context) {
	timeout := o.cfg.HeartbeatTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	now := o.clock()
	for _, s := range o.specialists.Stale(now, timeout) {
		slog.Warn("specialist heartbeat timeout", "specialist_id", s.ID, "sortie_id", s.SortieID)
		_ = o.specialists.MarkTerminal(s.ID, specialist.StatusFailed)
		if _, err := o.missions.UpdateSortieStatus(ctx, s.SortieID, mission.SortieStatusFailed, "", s.ProgressPercent, "heartbeat timeout"); err != nil {
			slog.Warn("failed to mark sortie failed after heartbeat timeout", "sortie_id", s.SortieID, "error", err)
		}
	}

	o.checkQuartileCheckpoint(ctx)

	interval := o.cfg.CheckpointInterval
	if interval <= 0 {
		interval = time.Minute
	}
	o.mu.Lock()
	due := now.Sub(o.lastCheckpointAt) > interval
	o.mu.Unlock()
	if due {
		if _, err := o.createCheckpoint(ctx, checkpoint.TriggerProgress); err != nil {
			slog.Warn("interval checkpoint failed", "mission_id", o.missionID, "error", err)
		}
	}
}

// quartileIndex reports which 25%-wide band percent falls into: 0 for
// [0,25), 1 for [25,50), 2 for [50,75), 3 for [75,100), 4 for 100.
func quartileIndex(percent float64) int {
	switch {
	case percent >= 100:
		return 4
	case percent >= 75:
		return 3
	case percent >= 50:
		return 2
	case percent >= 25:
		return 1
	default:
		return 0
	}
}

// checkQuartileCheckpoint triggers a progress checkpoint the first time
// the mission's completion percentage crosses each 25% boundary,
// independent of the interval timer — the other half of the "periodic
// progress milestones" checkpoint trigger.
func (o *Orchestrator) checkQuartileCheckpoint(ctx context.Context) {
	m, err := o.missions.Store().GetMission(ctx, o.missionID)
	if err != nil {
		return
	}
	percent := float64(0)
	if m.TotalSorties > 0 {
		percent = float64(m.CompletedSorties) / float64(m.TotalSorties) * 100
	}
	quartile := quartileIndex(percent)

	o.mu.Lock()
	due := quartile > o.lastCheckpointQuartile
	if due {
		o.lastCheckpointQuartile = quartile
	}
	o.mu.Unlock()

	if due {
		if _, err := o.createCheckpoint(ctx, checkpoint.TriggerProgress); err != nil {
			slog.Warn("quartile checkpoint failed", "mission_id", o.missionID, "quartile", quartile, "error", err)
		}
	}
}

// ResolveBlocker records a specialist's reported blocker, delegates to
// the Blocker Handler, and acts on the resolution.
func (o *Orchestrator) ResolveBlocker(ctx context.Context, specialistID string, report blocker.Report) blocker.Resolution {
	_ = o.specialists.MarkBlocked(specialistID, report.Description)
	resolution := o.blockers.Resolve(report)
	slog.Info("specialist_blocker_handled", "specialist_id", specialistID, "kind", report.Kind,
		"retry_count", report.RetryCount, "status", resolution.Status, "retry_after_ms", resolution.RetryAfterMS)
	return resolution
}

// CoordinateLocks cross-checks file overlap for sorties about to run
// concurrently. Per invariant 3 this should already be zero; any
// overlap found here is a defensive log, not an error.
func (o *Orchestrator) CoordinateLocks(sorties []*mission.Sortie) {
	seen := make(map[string]string)
	for _, s := range sorties {
		for _, f := range s.Files {
			canonical := lock.CanonicalizeFile(f)
			if owner, ok := seen[canonical]; ok {
				slog.Warn("unexpected file overlap between concurrently scheduled sorties", "file", canonical, "sortie_a", owner, "sortie_b", s.ID)
				continue
			}
			seen[canonical] = s.ID
		}
	}
}

// OnSpecialistComplete finalizes a sortie, releases every lock held by
// its specialist, and spawns the next eligible cohort.
func (o *Orchestrator) OnSpecialistComplete(ctx context.Context, specialistID, sortieID string) error {
	if _, err := o.missions.UpdateSortieStatus(ctx, sortieID, mission.SortieStatusCompleted, specialistID, 100, ""); err != nil {
		return err
	}
	_ = o.specialists.MarkTerminal(specialistID, specialist.StatusCompleted)

	active, err := o.locks.ListActive(ctx)
	if err != nil {
		slog.Warn("failed to list active locks during completion release", "error", err)
	}
	for _, l := range active {
		if l.ReservedBy != specialistID {
			continue
		}
		if _, err := o.locks.Release(ctx, l.ID, specialistID); err != nil {
			slog.Warn("failed to release lock on specialist completion", "lock_id", l.ID, "error", err)
		}
	}

	m, err := o.missions.Store().GetMission(ctx, o.missionID)
	if err != nil {
		return err
	}
	o.mu.Lock()
	if m.Status.IsTerminal() {
		o.state = StateCompleted
	}
	o.mu.Unlock()

	o.checkQuartileCheckpoint(ctx)

	if m.Status == mission.StatusCompleted {
		return nil
	}
	return o.spawnSpecialists(ctx)
}

// createCheckpoint snapshots current mission state through the
// Checkpoint Service.
func (o *Orchestrator) createCheckpoint(ctx context.Context, trigger checkpoint.Trigger) (*checkpoint.Checkpoint, error) {
	m, err := o.missions.Store().GetMission(ctx, o.missionID)
	if err != nil {
		return nil, err
	}
	sorties, err := o.missions.Store().ListSorties(ctx, o.missionID, "")
	if err != nil {
		return nil, err
	}

	var sortieSnapshots []checkpoint.SortieSnapshot
	var filesModified []string
	for _, s := range sorties {
		if s.Status.IsTerminal() && s.Status != mission.SortieStatusFailed {
			continue
		}
		sortieSnapshots = append(sortieSnapshots, checkpoint.SortieSnapshot{
			ID: s.ID, Status: string(s.Status), AssignedTo: s.AssignedTo, Files: s.Files,
			Progress: s.Progress, ProgressNotes: s.ProgressNotes,
		})
		filesModified = append(filesModified, s.Files...)
	}

	active, err := o.locks.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	var lockSnapshots []checkpoint.LockSnapshot
	for _, l := range active {
		if l.File == "" {
			continue
		}
		lockSnapshots = append(lockSnapshots, checkpoint.LockSnapshot{
			ID: l.ID, File: l.File, ReservedBy: l.ReservedBy, ReservedAt: l.ReservedAt,
			ExpiresAt: l.ExpiresAt, Purpose: string(l.Purpose), TimeoutMS: l.TimeoutMS,
		})
	}

	var pending []checkpoint.MessageSnapshot
	if o.mail != nil {
		for _, s := range o.specialists.All() {
			msgs, err := o.mail.PendingMessagesTo(ctx, s.ID)
			if err != nil {
				continue
			}
			for _, msg := range msgs {
				pending = append(pending, checkpoint.MessageSnapshot{ID: msg.ID, From: msg.From, To: msg.To, Subject: msg.Subject, Payload: msg.Payload})
			}
		}
	}

	progress := float64(0)
	if m.TotalSorties > 0 {
		progress = float64(m.CompletedSorties) / float64(m.TotalSorties) * 100
	}

	var blockers []string
	for _, s := range o.specialists.All() {
		blockers = append(blockers, s.Blockers...)
	}

	cp, err := o.checkpoints.Create(ctx, checkpoint.CreateInput{
		MissionID: o.missionID, Trigger: trigger, ProgressPercent: progress,
		Sorties: sortieSnapshots, ActiveLocks: lockSnapshots, PendingMessages: pending,
		RecoveryContext: checkpoint.RecoveryContext{
			LastAction:     fmt.Sprintf("%d/%d sorties completed", m.CompletedSorties, m.TotalSorties),
			NextSteps:      pendingSortieTitles(sorties),
			Blockers:       blockers,
			FilesModified:  filesModified,
			MissionSummary: m.Title,
			ElapsedTimeMS:  o.clock().Sub(m.CreatedAt).Milliseconds(),
			LastActivityAt: o.clock().UTC(),
		},
		CreatedBy: "orchestrator",
	})
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.lastCheckpointAt = o.clock()
	o.mu.Unlock()
	return cp, nil
}

func pendingSortieTitles(sorties []*mission.Sortie) []string {
	var out []string
	for _, s := range sorties {
		if s.Status == mission.SortieStatusPending || s.Status == mission.SortieStatusAssigned || s.Status == mission.SortieStatusInProgress {
			out = append(out, s.Title)
		}
	}
	return out
}

// OnFatalError records an error-trigger checkpoint before surfacing, per
// the failure-semantics contract, and marks the orchestrator failed.
func (o *Orchestrator) OnFatalError(ctx context.Context, cause error) {
	slog.Error("orchestrator fatal error", "mission_id", o.missionID, "error", cause)
	if _, err := o.createCheckpoint(ctx, checkpoint.TriggerError); err != nil {
		slog.Warn("error-trigger checkpoint failed", "mission_id", o.missionID, "error", err)
	}
	o.mu.Lock()
	o.state = StateFailed
	o.mu.Unlock()
}

// Pause transitions running -> paused.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateRunning {
		return fmt.Errorf("orchestrator: cannot pause from state %s", o.state)
	}
	o.state = StatePaused
	return nil
}

// Resume transitions paused -> running.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StatePaused {
		return fmt.Errorf("orchestrator: cannot resume from state %s", o.state)
	}
	o.state = StateRunning
	return nil
}
