// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lock

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock lets tests substitute a deterministic time source; the zero value
// uses time.Now.
type Clock func() time.Time

// Config controls the coordinator's background tasks and defaults.
type Config struct {
	DefaultTimeout    time.Duration
	SweepInterval     time.Duration
	QueueInterval     time.Duration
	ConflictRetention time.Duration
}

// Coordinator grants exclusive, time-bounded file reservations, queues
// conflicting requests per file in FIFO order, and runs the expiry
// sweeper and queue processor as long-running cooperative tasks.
//
// Acquisition uses a conditional insert inside the store's own
// transaction; the coordinator itself holds no long-lived mutex across a
// database call (background tasks obtain no long-held locks; each
// iteration is a bounded transaction).
type Coordinator struct {
	store Store
	cfg   Config
	clock Clock

	mu sync.Mutex // serializes queue processing (processQueueFor) only

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a Coordinator over store.
func New(store Store, cfg Config, clock Clock) *Coordinator {
	if clock == nil {
		clock = time.Now
	}
	return &Coordinator{store: store, cfg: cfg, clock: clock}
}

// Start launches the expiry sweeper and queue processor. Call Stop to
// cancel them cleanly at shutdown.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(2)
	go c.runTicker(ctx, c.cfg.SweepInterval, c.sweepOnce)
	go c.runTicker(ctx, c.cfg.QueueInterval, c.processQueuesOnce)
}

// Stop cancels the background tasks and waits for them to exit.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Coordinator) runTicker(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// CanonicalizeFile normalizes a file path the way every lock key and
// sortie-file identifier is stored: cleaned, slash-separated, and
// lower-cased only on the volume name (Windows drive letters), so two
// spellings of the same path always collide.
func CanonicalizeFile(path string) string {
	cleaned := filepath.ToSlash(filepath.Clean(path))
	if vol := filepath.VolumeName(path); vol != "" {
		cleaned = strings.ToLower(vol) + strings.TrimPrefix(cleaned, vol)
	}
	return cleaned
}

// Acquire attempts to reserve file for specialistID. durationMS <= 0 uses
// the coordinator's default timeout.
func (c *Coordinator) Acquire(ctx context.Context, specialistID, file string, durationMS int64, purpose Purpose) (*AcquireResult, error) {
	if specialistID == "" || file == "" {
		return nil, fmt.Errorf("lock: specialist_id and file are required")
	}
	if durationMS <= 0 {
		durationMS = c.cfg.DefaultTimeout.Milliseconds()
	}

	canonical := CanonicalizeFile(file)
	now := c.clock()

	// Self-conflict refusal: a specialist may not "acquire" a file it
	// already holds; it gets OutcomeConflict and an error, and is not queued.
	if existing, err := c.store.GetActiveByFile(ctx, canonical, now); err == nil {
		if existing.ReservedBy == specialistID {
			return &AcquireResult{Outcome: OutcomeConflict, ExistingLock: existing}, &SelfConflictError{File: canonical, SpecialistID: specialistID}
		}
	} else if err != ErrNotFound {
		return nil, err
	}

	l := &Lock{
		File:       canonical,
		ReservedBy: specialistID,
		ReservedAt: now,
		ExpiresAt:  now.Add(time.Duration(durationMS) * time.Millisecond),
		Purpose:    purpose,
		TimeoutMS:  durationMS,
	}

	acquired, existing, err := c.store.TryAcquire(ctx, l, now)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if acquired {
		return &AcquireResult{Outcome: OutcomeAcquired, Lock: l}, nil
	}

	_ = c.store.RecordConflict(ctx, Conflict{
		ID:           uuid.New().String(),
		File:         canonical,
		HolderID:     existing.ReservedBy,
		HolderExpiry: existing.ExpiresAt,
		RequestorID:  specialistID,
		OccurredAt:   now,
	})

	position, err := c.store.EnqueueWaiter(ctx, Waiter{
		SpecialistID: specialistID,
		File:         canonical,
		DurationMS:   durationMS,
		Purpose:      purpose,
		EnqueuedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue waiter: %w", err)
	}

	return &AcquireResult{Outcome: OutcomeQueued, ExistingLock: existing, QueuePosition: position}, nil
}

// Release marks lock lockID released by specialistID. Owner-only by
// default: a mismatched specialistID returns ErrWrongOwner. Releasing an
// already-non-active lock is idempotent and returns (false, nil).
func (c *Coordinator) Release(ctx context.Context, lockID, specialistID string) (bool, error) {
	l, err := c.store.Get(ctx, lockID)
	if err != nil {
		return false, err
	}
	if l.Status != StatusActive {
		return false, nil
	}
	if l.ReservedBy != specialistID {
		return false, ErrWrongOwner
	}

	released, err := c.store.MarkReleased(ctx, lockID, c.clock())
	if err != nil {
		return false, err
	}
	if released {
		c.processQueueFor(ctx, l.File)
	}
	return released, nil
}

// ForceRelease releases a lock regardless of owner (operator action). It
// is not treated as an owner error and does not require specialistID.
func (c *Coordinator) ForceRelease(ctx context.Context, lockID string) (bool, error) {
	l, err := c.store.Get(ctx, lockID)
	if err != nil {
		return false, err
	}
	released, err := c.store.MarkForceReleased(ctx, lockID, c.clock())
	if err != nil {
		return false, err
	}
	if released {
		c.processQueueFor(ctx, l.File)
	}
	return released, nil
}

// ListActive returns every currently active, unexpired lock.
func (c *Coordinator) ListActive(ctx context.Context) ([]*Lock, error) {
	return c.store.ListActive(ctx, c.clock())
}

func (c *Coordinator) sweepOnce(ctx context.Context) {
	files, err := c.store.SweepExpired(ctx, c.clock())
	if err != nil {
		slog.Warn("lock expiry sweep failed", "error", err)
		return
	}
	for _, f := range files {
		slog.Info("lock expired", "file", f)
		c.processQueueFor(ctx, f)
	}

	if c.cfg.ConflictRetention > 0 {
		if n, err := c.store.PruneConflicts(ctx, c.clock().Add(-c.cfg.ConflictRetention)); err != nil {
			slog.Warn("conflict record prune failed", "error", err)
		} else if n > 0 {
			slog.Debug("pruned stale lock conflict records", "count", n)
		}
	}
}

func (c *Coordinator) processQueuesOnce(ctx context.Context) {
	files, err := c.store.FilesWithWaiters(ctx)
	if err != nil {
		slog.Warn("listing files with waiters failed", "error", err)
		return
	}
	for _, f := range files {
		c.processQueueFor(ctx, f)
	}
}

// processQueueFor attempts to acquire for the head waiter of file if no
// active lock remains. On failure (raced by a new direct acquirer) the
// waiter is re-enqueued at the head rather than lost.
func (c *Coordinator) processQueueFor(ctx context.Context, file string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	if _, err := c.store.GetActiveByFile(ctx, file, now); err == nil {
		return // still held
	}

	waiter, ok, err := c.store.DequeueHead(ctx, file)
	if err != nil {
		slog.Warn("dequeue waiter failed", "file", file, "error", err)
		return
	}
	if !ok {
		return
	}

	l := &Lock{
		File:       file,
		ReservedBy: waiter.SpecialistID,
		ReservedAt: now,
		ExpiresAt:  now.Add(time.Duration(waiter.DurationMS) * time.Millisecond),
		Purpose:    waiter.Purpose,
		TimeoutMS:  waiter.DurationMS,
	}

	acquired, _, err := c.store.TryAcquire(ctx, l, now)
	if err != nil {
		slog.Warn("queue processor acquire failed", "file", file, "error", err)
		if rerr := c.store.RequeueHead(ctx, *waiter); rerr != nil {
			slog.Warn("failed to requeue waiter after error", "file", file, "error", rerr)
		}
		return
	}
	if !acquired {
		if rerr := c.store.RequeueHead(ctx, *waiter); rerr != nil {
			slog.Warn("failed to requeue waiter after race", "file", file, "error", rerr)
		}
		return
	}

	slog.Info("lock granted to queued waiter", "file", file, "specialist_id", waiter.SpecialistID)
}
