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

package dependency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLinearChainMission(t *testing.T) {
	nodes := []Node{
		{ID: "m1.0", Dependencies: nil, EstimatedDuration: 2 * time.Second},
		{ID: "m1.1", Dependencies: []string{"m1.0"}, EstimatedDuration: 3 * time.Second},
		{ID: "m1.2", Dependencies: []string{"m1.1"}, EstimatedDuration: time.Second},
		{ID: "m1.3", Dependencies: []string{"m1.2"}, EstimatedDuration: 4 * time.Second},
	}

	res := Resolve(nodes)
	require.True(t, res.Success)
	require.False(t, res.HasCycles)
	require.Equal(t, []string{"m1.0", "m1.1", "m1.2", "m1.3"}, res.TopologicalOrder)
	require.Equal(t, [][]string{{"m1.0"}, {"m1.1"}, {"m1.2"}, {"m1.3"}}, res.ParallelGroups)
	require.Equal(t, []string{"m1.0", "m1.1", "m1.2", "m1.3"}, res.CriticalPath)
	require.EqualValues(t, 10000, res.EstimatedDurationMS)
}

func TestDiamondCohorts(t *testing.T) {
	nodes := []Node{
		{ID: "a", Dependencies: nil},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"a"}},
		{ID: "d", Dependencies: []string{"b", "c"}},
	}

	res := Resolve(nodes)
	require.True(t, res.Success)
	require.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, res.ParallelGroups)
}

func TestDefaultDurationWhenAbsent(t *testing.T) {
	nodes := []Node{
		{ID: "a", Dependencies: nil},
		{ID: "b", Dependencies: []string{"a"}},
	}
	res := Resolve(nodes)
	require.True(t, res.Success)
	require.EqualValues(t, 2*DefaultDurationMS, res.EstimatedDurationMS)
}

func TestDirectCycleDetected(t *testing.T) {
	nodes := []Node{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
	}
	res := Resolve(nodes)
	require.False(t, res.Success)
	require.True(t, res.HasCycles)
	require.ElementsMatch(t, []string{"a", "b", "a"}, res.CycleNodes)
}

func TestThreeNodeCycleDetected(t *testing.T) {
	nodes := []Node{
		{ID: "a", Dependencies: []string{"c"}},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"b"}},
	}
	res := Resolve(nodes)
	require.False(t, res.Success)
	require.True(t, res.HasCycles)
	require.Len(t, res.CycleNodes, 4)
}

func TestCriticalPathPrefersLongerChain(t *testing.T) {
	nodes := []Node{
		{ID: "root", Dependencies: nil, EstimatedDuration: time.Second},
		{ID: "short", Dependencies: []string{"root"}, EstimatedDuration: time.Second},
		{ID: "long-a", Dependencies: []string{"root"}, EstimatedDuration: 5 * time.Second},
		{ID: "long-b", Dependencies: []string{"long-a"}, EstimatedDuration: 5 * time.Second},
	}
	res := Resolve(nodes)
	require.True(t, res.Success)
	require.Equal(t, []string{"root", "long-a", "long-b"}, res.CriticalPath)
	require.EqualValues(t, 11000, res.EstimatedDurationMS)
}
