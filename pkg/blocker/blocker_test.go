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

package blocker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelayGrowsExponentiallyAndCaps(t *testing.T) {
	p := DefaultBackoffPolicy()
	require.EqualValues(t, 1000, p.Delay(0))
	require.EqualValues(t, 2000, p.Delay(1))
	require.EqualValues(t, 4000, p.Delay(2))
	require.EqualValues(t, 60000, p.Delay(10)) // capped
}

func TestLockTimeoutRetriesThenEscalates(t *testing.T) {
	h := New(DefaultBackoffPolicy(), nil)

	res := h.Resolve(Report{Kind: KindLockTimeout, RetryCount: 0})
	require.Equal(t, StatusRetrying, res.Status)
	require.EqualValues(t, 1000, res.RetryAfterMS)

	res = h.Resolve(Report{Kind: KindLockTimeout, RetryCount: 5})
	require.Equal(t, StatusManualIntervention, res.Status)
}

func TestDependencyBlockerResolvesWhenComplete(t *testing.T) {
	lookup := func(id string) (bool, bool) {
		return id == "m1.0", true
	}
	h := New(DefaultBackoffPolicy(), lookup)

	res := h.Resolve(Report{Kind: KindDependency, AffectedSortieID: "m1.0"})
	require.Equal(t, StatusResolved, res.Status)
	require.Equal(t, "resume_work", res.NextAction)

	res = h.Resolve(Report{Kind: KindDependency, AffectedSortieID: "m1.1"})
	require.Equal(t, StatusWaiting, res.Status)
}

func TestDependencyBlockerMissingSortie(t *testing.T) {
	lookup := func(id string) (bool, bool) { return false, false }
	h := New(DefaultBackoffPolicy(), lookup)
	res := h.Resolve(Report{Kind: KindDependency, AffectedSortieID: "missing"})
	require.Equal(t, StatusManualIntervention, res.Status)
}

func TestOtherBlockerAlwaysManual(t *testing.T) {
	h := New(DefaultBackoffPolicy(), nil)
	res := h.Resolve(Report{Kind: KindOther, Description: "unexpected tool error"})
	require.Equal(t, StatusManualIntervention, res.Status)
	require.Equal(t, "unexpected tool error", res.ResolutionHint)
}
