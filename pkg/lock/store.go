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
	"time"
)

// Store is the persistence layer for locks and their waiter queues.
//
// Implementations must be thread-safe and support concurrent access. All
// mutating methods that must observe "no other active lock for this file"
// (TryAcquire) are expected to do so atomically with respect to each other.
type Store interface {
	// TryAcquire inserts a new active lock for file if, and only if, no
	// active unexpired lock currently exists for it. Returns the inserted
	// lock, or the existing conflicting lock with acquired=false.
	TryAcquire(ctx context.Context, l *Lock, now time.Time) (acquired bool, existing *Lock, err error)

	// Get returns a lock by id.
	Get(ctx context.Context, id string) (*Lock, error)

	// GetActiveByFile returns the active, unexpired lock on file, if any.
	GetActiveByFile(ctx context.Context, file string, now time.Time) (*Lock, error)

	// ListActive returns every lock currently in StatusActive and unexpired.
	ListActive(ctx context.Context, now time.Time) ([]*Lock, error)

	// MarkReleased transitions a lock to StatusReleased. Returns false if the
	// lock was not active (idempotent double-release).
	MarkReleased(ctx context.Context, id string, now time.Time) (bool, error)

	// MarkForceReleased transitions a lock to StatusForceReleased.
	MarkForceReleased(ctx context.Context, id string, now time.Time) (bool, error)

	// SweepExpired marks every active lock whose expires_at < now as
	// StatusExpired and returns the affected files.
	SweepExpired(ctx context.Context, now time.Time) ([]string, error)

	// EnqueueWaiter appends a waiter to file's FIFO queue and returns its
	// 1-based position.
	EnqueueWaiter(ctx context.Context, w Waiter) (position int, err error)

	// DequeueHead removes and returns the head waiter for file, if any.
	DequeueHead(ctx context.Context, file string) (*Waiter, bool, error)

	// RequeueHead re-inserts w at the head of file's queue (used when an
	// attempted acquisition for the head waiter loses a race).
	RequeueHead(ctx context.Context, w Waiter) error

	// FilesWithWaiters returns every file that currently has a non-empty queue.
	FilesWithWaiters(ctx context.Context) ([]string, error)

	// RecordConflict appends a diagnostic conflict entry.
	RecordConflict(ctx context.Context, c Conflict) error

	// PruneConflicts deletes conflict records older than before.
	PruneConflicts(ctx context.Context, before time.Time) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// Ensure interface compliance at compile time.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLStore)(nil)
)
