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
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fleettools/squawk/pkg/eventstore"
)

const (
	createMailboxesTableSQL = `
CREATE TABLE IF NOT EXISTS mailboxes (
    id         VARCHAR(255) PRIMARY KEY,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

	createCursorsTableSQL = `
CREATE TABLE IF NOT EXISTS cursors (
    id          VARCHAR(64) PRIMARY KEY,
    stream_id   VARCHAR(255) NOT NULL,
    consumer_id VARCHAR(128) NOT NULL,
    position    BIGINT NOT NULL,
    updated_at  TIMESTAMP NOT NULL,
    UNIQUE (stream_id, consumer_id)
)`

	createMessagesTableSQL = `
CREATE TABLE IF NOT EXISTS messages (
    id         VARCHAR(64) PRIMARY KEY,
    mailbox_id VARCHAR(255) NOT NULL,
    sender     VARCHAR(128) NOT NULL,
    recipients TEXT NOT NULL,
    subject    TEXT,
    payload    TEXT,
    sent_at    TIMESTAMP NOT NULL,
    delivered  BOOLEAN NOT NULL DEFAULT 0
)`

	createMessagesMailboxIdxSQL = `CREATE INDEX IF NOT EXISTS idx_messages_mailbox ON messages(mailbox_id)`
)

// AppendEvent is one event as submitted by a mailbox-append request.
type AppendEvent struct {
	Type          string
	Data          []byte
	CausationID   string
	CorrelationID string
	Metadata      []byte
}

// Store persists mailboxes, their consumer cursors, and the messages
// exchanged over them, layered on the shared event store.
type Store struct {
	db      *sql.DB
	dialect string
	events  *eventstore.Store
}

// New opens (and migrates) the mailbox store.
func New(db *sql.DB, dialect string, events *eventstore.Store) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	s := &Store{db: db, dialect: dialect, events: events}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize mailbox store schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, stmt := range []string{createMailboxesTableSQL, createCursorsTableSQL, createMessagesTableSQL, createMessagesMailboxIdxSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

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

// Append writes events to streamID's stream, creating the mailbox
// projection row lazily on first append, and returns the stream's full
// event list afterward.
func (s *Store) Append(ctx context.Context, streamID string, events []AppendEvent) ([]*eventstore.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if err := s.upsertMailbox(ctx, tx, streamID, now); err != nil {
		return nil, err
	}

	for _, e := range events {
		if _, err := s.events.Append(ctx, tx, eventstore.AppendInput{
			StreamType: "mailbox", StreamID: streamID, EventType: e.Type, Data: e.Data,
			CausationID: e.CausationID, CorrelationID: e.CorrelationID, Metadata: e.Metadata, OccurredAt: now,
		}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit mailbox append: %w", err)
	}
	return s.events.ReadStream(ctx, "mailbox", streamID, 0)
}

func (s *Store) upsertMailbox(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	switch s.dialect {
	case "mysql":
		_, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO mailboxes (id, created_at, updated_at) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE updated_at = ?`), id, now, now, now)
		return err
	default:
		_, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO mailboxes (id, created_at, updated_at) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET updated_at = excluded.updated_at`), id, now, now)
		return err
	}
}

// GetMailbox returns a mailbox's metadata (not its events); ErrNotFound
// if it has never been appended to.
func (s *Store) GetMailbox(ctx context.Context, id string) (*Mailbox, error) {
	var m Mailbox
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT id, created_at, updated_at FROM mailboxes WHERE id = ?"), id).
		Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mailbox: %w", err)
	}
	return &m, nil
}

// ReadStream returns a mailbox's full event history, oldest first.
// ErrNotFound if the mailbox has never been appended to.
func (s *Store) ReadStream(ctx context.Context, streamID string) ([]*eventstore.Event, error) {
	if _, err := s.GetMailbox(ctx, streamID); err != nil {
		return nil, err
	}
	return s.events.ReadStream(ctx, "mailbox", streamID, 0)
}

// CountMailboxes returns the number of mailboxes ever appended to,
// the "active_mailboxes" figure in the coordinator status summary.
func (s *Store) CountMailboxes(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM mailboxes").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count mailboxes: %w", err)
	}
	return n, nil
}

// AdvanceCursor moves (or creates) a consumer's read position on a
// stream. The tuple (stream_id, consumer_id) is unique.
func (s *Store) AdvanceCursor(ctx context.Context, streamID, consumerID string, position int64) (*Cursor, error) {
	if _, err := s.GetMailbox(ctx, streamID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	id := cursorID(streamID, consumerID)
	switch s.dialect {
	case "mysql":
		_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO cursors (id, stream_id, consumer_id, position, updated_at) VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE position = ?, updated_at = ?`), id, streamID, consumerID, position, now, position, now)
		if err != nil {
			return nil, fmt.Errorf("failed to advance cursor: %w", err)
		}
	default:
		_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO cursors (id, stream_id, consumer_id, position, updated_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (stream_id, consumer_id) DO UPDATE SET position = excluded.position, updated_at = excluded.updated_at`),
			id, streamID, consumerID, position, now)
		if err != nil {
			return nil, fmt.Errorf("failed to advance cursor: %w", err)
		}
	}
	return s.GetCursor(ctx, id)
}

// GetCursor returns a cursor by its id.
func (s *Store) GetCursor(ctx context.Context, id string) (*Cursor, error) {
	var c Cursor
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT id, stream_id, consumer_id, position, updated_at FROM cursors WHERE id = ?"), id).
		Scan(&c.ID, &c.StreamID, &c.ConsumerID, &c.Position, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	return &c, nil
}

// cursorID derives a stable id for a (stream, consumer) pair so GetCursor
// can be addressed by id alone, as the HTTP surface requires.
func cursorID(streamID, consumerID string) string {
	return streamID + ":" + consumerID
}

// SendMessage inserts a message row and emits the corresponding
// message_sent event in the same transaction.
func (s *Store) SendMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.upsertMailbox(ctx, tx, msg.From, msg.SentAt); err != nil {
		return err
	}

	toJSON := strings.Join(msg.To, ",")
	_, err = tx.ExecContext(ctx, s.rebind(`
INSERT INTO messages (id, mailbox_id, sender, recipients, subject, payload, sent_at, delivered)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		msg.ID, msg.From, msg.From, toJSON, msg.Subject, string(msg.Payload), msg.SentAt, false)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	payload := []byte(fmt.Sprintf(`{"message_id":%q,"from":%q,"to":%q}`, msg.ID, msg.From, toJSON))
	if _, err := s.events.Append(ctx, tx, eventstore.AppendInput{
		StreamType: "mailbox", StreamID: msg.From, EventType: "message_sent", Data: payload, OccurredAt: msg.SentAt,
	}); err != nil {
		return err
	}

	return tx.Commit()
}

// PendingMessagesTo returns every undelivered message addressed to
// recipientID, oldest first — the set a checkpoint snapshots and
// recovery re-enqueues.
func (s *Store) PendingMessagesTo(ctx context.Context, recipientID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, sender, recipients, subject, payload, sent_at, delivered FROM messages WHERE delivered = ? ORDER BY sent_at ASC`), false)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		for _, to := range msg.To {
			if to == recipientID {
				out = append(out, msg)
				break
			}
		}
	}
	return out, rows.Err()
}

// MarkDelivered flips a message's delivered flag; idempotent.
func (s *Store) MarkDelivered(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind("UPDATE messages SET delivered = ? WHERE id = ?"), true, messageID)
	return err
}

// GetMessage returns a message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT id, sender, recipients, subject, payload, sent_at, delivered FROM messages WHERE id = ?"), id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return msg, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var recipients string
	if err := row.Scan(&msg.ID, &msg.From, &recipients, &msg.Subject, &msg.Payload, &msg.SentAt, &msg.Delivered); err != nil {
		return nil, err
	}
	if recipients != "" {
		msg.To = strings.Split(recipients, ",")
	}
	return &msg, nil
}

// NewMessage constructs a Message with a fresh id and sent_at timestamp.
func NewMessage(from string, to []string, subject string, payload []byte) *Message {
	return &Message{
		ID:      uuid.New().String(),
		From:    from,
		To:      to,
		Subject: subject,
		Payload: payload,
		SentAt:  time.Now().UTC(),
	}
}
