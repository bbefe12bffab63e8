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
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	createEventsTableSQL = `
CREATE TABLE IF NOT EXISTS events (
    event_id        VARCHAR(64) PRIMARY KEY,
    stream_type     VARCHAR(128) NOT NULL,
    stream_id       VARCHAR(255) NOT NULL,
    sequence_number BIGINT NOT NULL,
    event_type      VARCHAR(128) NOT NULL,
    data            TEXT NOT NULL,
    occurred_at     TIMESTAMP NOT NULL,
    recorded_at     TIMESTAMP NOT NULL,
    causation_id    VARCHAR(64),
    correlation_id  VARCHAR(64),
    metadata        TEXT,
    schema_version  INTEGER NOT NULL,
    UNIQUE (stream_type, stream_id, sequence_number)
)`

	createEventsStreamIdxSQL = `
CREATE INDEX IF NOT EXISTS idx_events_stream ON events(stream_type, stream_id, sequence_number)`

	createEventsTypeIdxSQL = `
CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type)`

	createEventsOccurredIdxSQL = `
CREATE INDEX IF NOT EXISTS idx_events_occurred ON events(occurred_at)`

	// maxSequenceRetries bounds how many times Append retries after losing
	// a race for the next sequence number before surfacing IntegrityError.
	maxSequenceRetries = 5
)

// Store is the durable, transactional append-only event log.
type Store struct {
	db      *sql.DB
	dialect string
}

// New opens (and migrates) the event store backed by db. dialect must be
// one of "postgres", "mysql", "sqlite".
func New(db *sql.DB, dialect string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize event store schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stmt := range []string{
		createEventsTableSQL,
		createEventsStreamIdxSQL,
		createEventsTypeIdxSQL,
		createEventsOccurredIdxSQL,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the underlying connection so other stores can share it and
// participate in the same cross-table transactions (projections are
// updated alongside the event append per the data model's invariant 6).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the normalized SQL dialect name.
func (s *Store) Dialect() string {
	return s.dialect
}

// Append assigns the next sequence number for (stream_type, stream_id) and
// inserts the event, inside tx so callers can update projections in the
// same transaction (data model invariant 6). On a unique-constraint
// collision from a concurrent append it retries up to maxSequenceRetries
// times before returning an IntegrityError.
func (s *Store) Append(ctx context.Context, tx *sql.Tx, in AppendInput) (*Event, error) {
	if in.StreamType == "" || in.StreamID == "" || in.EventType == "" {
		return nil, fmt.Errorf("stream_type, stream_id and event_type are required")
	}

	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	var lastErr error
	for attempt := 0; attempt < maxSequenceRetries; attempt++ {
		seq, err := s.nextSequence(ctx, tx, in.StreamType, in.StreamID)
		if err != nil {
			return nil, fmt.Errorf("failed to compute next sequence number: %w", err)
		}

		ev := &Event{
			EventID:        uuid.New().String(),
			StreamType:     in.StreamType,
			StreamID:       in.StreamID,
			SequenceNumber: seq,
			EventType:      in.EventType,
			Data:           in.Data,
			OccurredAt:     occurredAt,
			RecordedAt:     time.Now().UTC(),
			CausationID:    in.CausationID,
			CorrelationID:  in.CorrelationID,
			Metadata:       in.Metadata,
			SchemaVersion:  CurrentSchemaVersion,
		}

		_, err = tx.ExecContext(ctx, s.insertSQL(),
			ev.EventID, ev.StreamType, ev.StreamID, ev.SequenceNumber, ev.EventType,
			string(ev.Data), ev.OccurredAt, ev.RecordedAt,
			nullableString(ev.CausationID), nullableString(ev.CorrelationID),
			nullableBytes(ev.Metadata), ev.SchemaVersion)
		if err != nil {
			if isUniqueViolation(err) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("failed to insert event: %w", err)
		}

		return ev, nil
	}

	return nil, &IntegrityError{StreamType: in.StreamType, StreamID: in.StreamID}
}

func (s *Store) nextSequence(ctx context.Context, tx *sql.Tx, streamType, streamID string) (int64, error) {
	var max sql.NullInt64
	err := tx.QueryRowContext(ctx,
		s.rebind("SELECT MAX(sequence_number) FROM events WHERE stream_type = ? AND stream_id = ?"),
		streamType, streamID).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return max.Int64 + 1, nil
}

func (s *Store) insertSQL() string {
	return s.rebind(`
INSERT INTO events (event_id, stream_type, stream_id, sequence_number, event_type, data, occurred_at, recorded_at, causation_id, correlation_id, metadata, schema_version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
}

// rebind converts `?` placeholders to `$N` for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ReadStream returns events for one stream ordered by sequence_number
// ascending, optionally starting after an exclusive lower bound.
func (s *Store) ReadStream(ctx context.Context, streamType, streamID string, afterSeq int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT event_id, stream_type, stream_id, sequence_number, event_type, data, occurred_at, recorded_at, causation_id, correlation_id, metadata, schema_version
FROM events WHERE stream_type = ? AND stream_id = ? AND sequence_number > ? ORDER BY sequence_number ASC`),
		streamType, streamID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// LatestInStream returns the highest-sequence event for a stream, or
// ErrNotFound if the stream has no events.
func (s *Store) LatestInStream(ctx context.Context, streamType, streamID string) (*Event, error) {
	events, err := s.ReadStream(ctx, streamType, streamID, 0)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	return events[len(events)-1], nil
}

// Query returns events matching Filter across all streams, newest
// occurred_at last, honoring Filter.Limit (0 means unbounded).
func (s *Store) Query(ctx context.Context, f Filter) ([]*Event, error) {
	query := `SELECT event_id, stream_type, stream_id, sequence_number, event_type, data, occurred_at, recorded_at, causation_id, correlation_id, metadata, schema_version FROM events WHERE 1=1`
	var args []interface{}

	if f.StreamType != "" {
		query += " AND stream_type = ?"
		args = append(args, f.StreamType)
	}
	if f.StreamID != "" {
		query += " AND stream_id = ?"
		args = append(args, f.StreamID)
	}
	if f.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, f.EventType)
	}
	if !f.After.IsZero() {
		query += " AND occurred_at > ?"
		args = append(args, f.After)
	}
	query += " ORDER BY occurred_at ASC, sequence_number ASC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var out []*Event
	for rows.Next() {
		var ev Event
		var data string
		var causation, correlation sql.NullString
		var metadata sql.NullString
		if err := rows.Scan(&ev.EventID, &ev.StreamType, &ev.StreamID, &ev.SequenceNumber,
			&ev.EventType, &data, &ev.OccurredAt, &ev.RecordedAt,
			&causation, &correlation, &metadata, &ev.SchemaVersion); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		ev.Data = []byte(data)
		ev.CausationID = causation.String
		ev.CorrelationID = correlation.String
		if metadata.Valid {
			ev.Metadata = []byte(metadata.String)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// isUniqueViolation recognizes the unique-constraint error text across
// sqlite3, postgres (lib/pq) and mysql drivers.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "unique_violation") ||
		strings.Contains(msg, "23505")
}
