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

// Package lock implements the coordination server's file-lock
// coordinator: exclusive, time-bounded reservations on canonical file
// paths, a per-file FIFO waiter queue, and background expiry and queue
// processing tasks.
//
// # Basic usage
//
//	store, err := lock.NewSQLStore(db, "sqlite")
//	coordinator := lock.New(store, lock.Config{
//	    DefaultTimeout: 30 * time.Minute,
//	    SweepInterval:  30 * time.Second,
//	    QueueInterval:  time.Second,
//	}, nil)
//	coordinator.Start(ctx)
//	defer coordinator.Stop()
//
//	result, err := coordinator.Acquire(ctx, "specialist-1", "/src/auth.ts", 30000, lock.PurposeEdit)
//
// # Acquire outcomes
//
//   - acquired: the lock was granted immediately.
//   - conflict: the requesting specialist already holds the file;
//     ExistingLock is set and a *SelfConflictError is returned.
//   - queued: another specialist holds the file; ExistingLock is set and
//     the request was appended to the file's FIFO waiter queue.
package lock
