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

package mailbox

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleettools/squawk/pkg/eventstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	events, err := eventstore.New(db, "sqlite")
	require.NoError(t, err)

	store, err := New(db, "sqlite", events)
	require.NoError(t, err)
	return store
}

func TestAppendCreatesMailboxLazily(t *testing.T) {
	s := newTestStore(t)
	events, err := s.Append(t.Context(), "specialist-1", []AppendEvent{
		{Type: "progress_reported", Data: []byte(`{"percent":50}`)},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)

	mb, err := s.GetMailbox(t.Context(), "specialist-1")
	require.NoError(t, err)
	require.Equal(t, "specialist-1", mb.ID)
}

func TestCursorAdvanceAndRead(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append(t.Context(), "stream-a", []AppendEvent{{Type: "x", Data: []byte(`{}`)}})
	require.NoError(t, err)

	c, err := s.AdvanceCursor(t.Context(), "stream-a", "consumer-1", 1)
	require.NoError(t, err)
	require.EqualValues(t, 1, c.Position)

	got, err := s.GetCursor(t.Context(), c.ID)
	require.NoError(t, err)
	require.Equal(t, "consumer-1", got.ConsumerID)

	// Two consumer groups track independent positions on the same stream.
	c2, err := s.AdvanceCursor(t.Context(), "stream-a", "consumer-2", 1)
	require.NoError(t, err)
	require.NotEqual(t, c.ID, c2.ID)
}

func TestCursorOnUnknownStreamFails(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AdvanceCursor(t.Context(), "missing", "consumer-1", 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSendAndDeliverMessage(t *testing.T) {
	s := newTestStore(t)
	msg := NewMessage("specialist-a", []string{"specialist-b"}, "status", []byte(`"done"`))
	require.NoError(t, s.SendMessage(t.Context(), msg))

	pending, err := s.PendingMessagesTo(t.Context(), "specialist-b")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, msg.ID, pending[0].ID)

	require.NoError(t, s.MarkDelivered(t.Context(), msg.ID))

	pending, err = s.PendingMessagesTo(t.Context(), "specialist-b")
	require.NoError(t, err)
	require.Empty(t, pending)
}
