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

package eventstore

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := New(db, "sqlite")
	require.NoError(t, err)
	return s
}

func TestAppendAssignsGapFreeSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		tx, err := s.DB().BeginTx(ctx, nil)
		require.NoError(t, err)

		ev, err := s.Append(ctx, tx, AppendInput{
			StreamType: "mission",
			StreamID:   "m1",
			EventType:  "sortie_status_changed",
			Data:       []byte(`{}`),
		})
		require.NoError(t, err)
		require.Equal(t, int64(i), ev.SequenceNumber)
		require.NoError(t, tx.Commit())
	}

	events, err := s.ReadStream(ctx, "mission", "m1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		require.Equal(t, int64(i+1), ev.SequenceNumber)
	}
}

func TestReadStreamAfterLowerBound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		tx, _ := s.DB().BeginTx(ctx, nil)
		_, err := s.Append(ctx, tx, AppendInput{StreamType: "mission", StreamID: "m1", EventType: "t", Data: []byte("{}")})
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
	}

	events, err := s.ReadStream(ctx, "mission", "m1", 3)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, int64(4), events[0].SequenceNumber)
}

func TestLatestInStreamNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LatestInStream(context.Background(), "mission", "unknown")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAppendIndependentStreams(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx1, _ := s.DB().BeginTx(ctx, nil)
	ev1, err := s.Append(ctx, tx1, AppendInput{StreamType: "mission", StreamID: "m1", EventType: "t", Data: []byte("{}")})
	require.NoError(t, err)
	require.NoError(t, tx1.Commit())

	tx2, _ := s.DB().BeginTx(ctx, nil)
	ev2, err := s.Append(ctx, tx2, AppendInput{StreamType: "mission", StreamID: "m2", EventType: "t", Data: []byte("{}")})
	require.NoError(t, err)
	require.NoError(t, tx2.Commit())

	require.Equal(t, int64(1), ev1.SequenceNumber)
	require.Equal(t, int64(1), ev2.SequenceNumber)
}
