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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestCoordinator(now *time.Time) *Coordinator {
	cfg := Config{
		DefaultTimeout:    30 * time.Minute,
		SweepInterval:     time.Hour, // disabled for these tests; driven manually
		QueueInterval:     time.Hour,
		ConflictRetention: time.Hour,
	}
	return New(NewMemoryStore(), cfg, func() time.Time { return *now })
}

func TestAcquireThenConflictThenQueue(t *testing.T) {
	now := time.Now()
	c := newTestCoordinator(&now)
	ctx := context.Background()

	res, err := c.Acquire(ctx, "specialist-a", "/src/auth.ts", 30000, PurposeEdit)
	require.NoError(t, err)
	require.Equal(t, OutcomeAcquired, res.Outcome)

	res2, err := c.Acquire(ctx, "specialist-b", "/src/auth.ts", 30000, PurposeEdit)
	require.NoError(t, err)
	require.Equal(t, OutcomeQueued, res2.Outcome)
	require.Equal(t, 1, res2.QueuePosition)
}

func TestSelfConflictRefused(t *testing.T) {
	now := time.Now()
	c := newTestCoordinator(&now)
	ctx := context.Background()

	_, err := c.Acquire(ctx, "specialist-a", "/src/api.ts", 30000, PurposeEdit)
	require.NoError(t, err)

	res, err := c.Acquire(ctx, "specialist-a", "/src/api.ts", 30000, PurposeEdit)
	require.Error(t, err)
	require.True(t, IsConflict(err))
	require.Equal(t, OutcomeConflict, res.Outcome)
}

func TestReleaseGrantsQueuedWaiter(t *testing.T) {
	now := time.Now()
	c := newTestCoordinator(&now)
	ctx := context.Background()

	acquireRes, err := c.Acquire(ctx, "specialist-a", "/src/auth.ts", 30000, PurposeEdit)
	require.NoError(t, err)

	queueRes, err := c.Acquire(ctx, "specialist-b", "/src/auth.ts", 30000, PurposeEdit)
	require.NoError(t, err)
	require.Equal(t, OutcomeQueued, queueRes.Outcome)

	ok, err := c.Release(ctx, acquireRes.Lock.ID, "specialist-a")
	require.NoError(t, err)
	require.True(t, ok)

	active, err := c.store.GetActiveByFile(ctx, CanonicalizeFile("/src/auth.ts"), now)
	require.NoError(t, err)
	require.Equal(t, "specialist-b", active.ReservedBy)
}

func TestReleaseWrongOwner(t *testing.T) {
	now := time.Now()
	c := newTestCoordinator(&now)
	ctx := context.Background()

	res, err := c.Acquire(ctx, "specialist-a", "/src/api.ts", 30000, PurposeEdit)
	require.NoError(t, err)

	_, err = c.Release(ctx, res.Lock.ID, "specialist-b")
	require.ErrorIs(t, err, ErrWrongOwner)
}

func TestDoubleReleaseIsIdempotent(t *testing.T) {
	now := time.Now()
	c := newTestCoordinator(&now)
	ctx := context.Background()

	res, err := c.Acquire(ctx, "specialist-a", "/src/api.ts", 30000, PurposeEdit)
	require.NoError(t, err)

	ok, err := c.Release(ctx, res.Lock.ID, "specialist-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.Release(ctx, res.Lock.ID, "specialist-a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestExpirySweepReleasesLock(t *testing.T) {
	now := time.Now()
	c := newTestCoordinator(&now)
	ctx := context.Background()

	_, err := c.Acquire(ctx, "specialist-a", "/src/api.ts", 1000, PurposeEdit)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	c.sweepOnce(ctx)

	_, err = c.store.GetActiveByFile(ctx, CanonicalizeFile("/src/api.ts"), now)
	require.ErrorIs(t, err, ErrNotFound)

	res, err := c.Acquire(ctx, "specialist-b", "/src/api.ts", 30000, PurposeEdit)
	require.NoError(t, err)
	require.Equal(t, OutcomeAcquired, res.Outcome)
}

func TestCanonicalizeFile(t *testing.T) {
	require.Equal(t, CanonicalizeFile("/src/../src/./auth.ts"), CanonicalizeFile("/src/auth.ts"))
}
