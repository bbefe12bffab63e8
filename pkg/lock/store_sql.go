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
	createLocksTableSQL = `
CREATE TABLE IF NOT EXISTS locks (
    id           VARCHAR(64) PRIMARY KEY,
    file         VARCHAR(1024) NOT NULL,
    reserved_by  VARCHAR(255) NOT NULL,
    reserved_at  TIMESTAMP NOT NULL,
    expires_at   TIMESTAMP NOT NULL,
    released_at  TIMESTAMP,
    purpose      VARCHAR(16) NOT NULL,
    timeout_ms   BIGINT NOT NULL,
    checksum     VARCHAR(128),
    status       VARCHAR(32) NOT NULL
)`
	createLocksFileIdxSQL = `CREATE INDEX IF NOT EXISTS idx_locks_file ON locks(file)`
	createLocksStatusIdxSQL = `CREATE INDEX IF NOT EXISTS idx_locks_status ON locks(status)`

	createWaitersTableSQL = `
CREATE TABLE IF NOT EXISTS lock_waiters (
    seq            INTEGER PRIMARY KEY AUTOINCREMENT,
    file           VARCHAR(1024) NOT NULL,
    specialist_id  VARCHAR(255) NOT NULL,
    duration_ms    BIGINT NOT NULL,
    purpose        VARCHAR(16) NOT NULL,
    enqueued_at    TIMESTAMP NOT NULL
)`
	createWaitersFileIdxSQL = `CREATE INDEX IF NOT EXISTS idx_waiters_file ON lock_waiters(file)`

	createConflictsTableSQL = `
CREATE TABLE IF NOT EXISTS lock_conflicts (
    id            VARCHAR(64) PRIMARY KEY,
    file          VARCHAR(1024) NOT NULL,
    holder_id     VARCHAR(255) NOT NULL,
    holder_expiry TIMESTAMP NOT NULL,
    requestor_id  VARCHAR(255) NOT NULL,
    occurred_at   TIMESTAMP NOT NULL
)`
)

// SQLStore is a Store backed by database/sql, shared with the rest of the
// server's persistence (see config.DBPool).
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore opens (and migrates) the lock tables on db.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize lock schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	stmts := []string{createLocksTableSQL, createLocksFileIdxSQL, createLocksStatusIdxSQL,
		createWaitersTableSQL, createWaitersFileIdxSQL, createConflictsTableSQL}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) rebind(query string) string {
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

// TryAcquire runs inside a transaction: it checks for a conflicting active
// lock and, if none, inserts the new lock — atomic with respect to other
// TryAcquire calls because of the transaction's isolation.
func (s *SQLStore) TryAcquire(ctx context.Context, l *Lock, now time.Time) (bool, *Lock, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, err
	}
	defer tx.Rollback()

	existing, err := s.activeByFileTx(ctx, tx, l.File, now)
	if err != nil && err != ErrNotFound {
		return false, nil, err
	}
	if existing != nil {
		return false, existing, tx.Commit()
	}

	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	l.Status = StatusActive

	_, err = tx.ExecContext(ctx, s.rebind(`
INSERT INTO locks (id, file, reserved_by, reserved_at, expires_at, released_at, purpose, timeout_ms, checksum, status)
VALUES (?, ?, ?, ?, ?, NULL, ?, ?, ?, ?)`),
		l.ID, l.File, l.ReservedBy, l.ReservedAt, l.ExpiresAt, string(l.Purpose), l.TimeoutMS, nullableString(l.Checksum), string(l.Status))
	if err != nil {
		return false, nil, fmt.Errorf("failed to insert lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, nil, err
	}
	return true, cloneLock(l), nil
}

func (s *SQLStore) activeByFileTx(ctx context.Context, tx *sql.Tx, file string, now time.Time) (*Lock, error) {
	row := tx.QueryRowContext(ctx, s.rebind(`
SELECT id, file, reserved_by, reserved_at, expires_at, released_at, purpose, timeout_ms, checksum, status
FROM locks WHERE file = ? AND status = 'active' AND released_at IS NULL AND expires_at > ?`), file, now)
	l, err := scanLock(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return l, err
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Lock, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
SELECT id, file, reserved_by, reserved_at, expires_at, released_at, purpose, timeout_ms, checksum, status
FROM locks WHERE id = ?`), id)
	l, err := scanLock(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return l, err
}

func (s *SQLStore) GetActiveByFile(ctx context.Context, file string, now time.Time) (*Lock, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
SELECT id, file, reserved_by, reserved_at, expires_at, released_at, purpose, timeout_ms, checksum, status
FROM locks WHERE file = ? AND status = 'active' AND released_at IS NULL AND expires_at > ?`), file, now)
	l, err := scanLock(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return l, err
}

func (s *SQLStore) ListActive(ctx context.Context, now time.Time) ([]*Lock, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, file, reserved_by, reserved_at, expires_at, released_at, purpose, timeout_ms, checksum, status
FROM locks WHERE status = 'active' AND released_at IS NULL AND expires_at > ?`), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Lock
	for rows.Next() {
		l, err := scanLockRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLStore) MarkReleased(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
UPDATE locks SET status = 'released', released_at = ? WHERE id = ? AND status = 'active'`), now, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLStore) MarkForceReleased(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
UPDATE locks SET status = 'force_released', released_at = ? WHERE id = ? AND status = 'active'`), now, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLStore) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT DISTINCT file FROM locks WHERE status = 'active' AND released_at IS NULL AND expires_at < ?`), now)
	if err != nil {
		return nil, err
	}
	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			rows.Close()
			return nil, err
		}
		files = append(files, f)
	}
	rows.Close()

	if _, err := s.db.ExecContext(ctx, s.rebind(`
UPDATE locks SET status = 'expired' WHERE status = 'active' AND released_at IS NULL AND expires_at < ?`), now); err != nil {
		return nil, err
	}
	return files, nil
}

func (s *SQLStore) EnqueueWaiter(ctx context.Context, w Waiter) (int, error) {
	if _, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO lock_waiters (file, specialist_id, duration_ms, purpose, enqueued_at) VALUES (?, ?, ?, ?, ?)`),
		w.File, w.SpecialistID, w.DurationMS, string(w.Purpose), w.EnqueuedAt); err != nil {
		return 0, err
	}

	var position int
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM lock_waiters WHERE file = ?`), w.File)
	if err := row.Scan(&position); err != nil {
		return 0, err
	}
	return position, nil
}

func (s *SQLStore) DequeueHead(ctx context.Context, file string) (*Waiter, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
SELECT seq, specialist_id, duration_ms, purpose, enqueued_at FROM lock_waiters WHERE file = ? ORDER BY enqueued_at ASC, seq ASC LIMIT 1`), file)

	var seq int64
	var w Waiter
	var purpose string
	w.File = file
	if err := row.Scan(&seq, &w.SpecialistID, &w.DurationMS, &purpose, &w.EnqueuedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	w.Purpose = Purpose(purpose)

	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM lock_waiters WHERE seq = ?`), seq); err != nil {
		return nil, false, err
	}
	return &w, true, nil
}

func (s *SQLStore) RequeueHead(ctx context.Context, w Waiter) error {
	// DequeueHead orders by enqueued_at, then auto-increment seq. Re-inserting
	// w with the smallest existing seq minus one is not portable across
	// dialects, so to put w back at the head we instead give it an
	// enqueued_at earlier than every waiter currently queued for the file.
	var earliest sql.NullTime
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT MIN(enqueued_at) FROM lock_waiters WHERE file = ?`), w.File)
	if err := row.Scan(&earliest); err != nil {
		return err
	}
	enqueuedAt := w.EnqueuedAt
	if earliest.Valid && !earliest.Time.After(enqueuedAt) {
		enqueuedAt = earliest.Time.Add(-time.Millisecond)
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO lock_waiters (file, specialist_id, duration_ms, purpose, enqueued_at) VALUES (?, ?, ?, ?, ?)`),
		w.File, w.SpecialistID, w.DurationMS, string(w.Purpose), enqueuedAt)
	return err
}

func (s *SQLStore) FilesWithWaiters(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT file FROM lock_waiters`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *SQLStore) RecordConflict(ctx context.Context, c Conflict) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO lock_conflicts (id, file, holder_id, holder_expiry, requestor_id, occurred_at) VALUES (?, ?, ?, ?, ?, ?)`),
		c.ID, c.File, c.HolderID, c.HolderExpiry, c.RequestorID, c.OccurredAt)
	return err
}

func (s *SQLStore) PruneConflicts(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM lock_conflicts WHERE occurred_at < ?`), before)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLStore) Close() error { return nil }

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLock(row rowScanner) (*Lock, error) {
	return scanLockRows(row)
}

func scanLockRows(row rowScanner) (*Lock, error) {
	var l Lock
	var purpose, status string
	var releasedAt sql.NullTime
	var checksum sql.NullString
	if err := row.Scan(&l.ID, &l.File, &l.ReservedBy, &l.ReservedAt, &l.ExpiresAt, &releasedAt, &purpose, &l.TimeoutMS, &checksum, &status); err != nil {
		return nil, err
	}
	l.Purpose = Purpose(purpose)
	l.Status = Status(status)
	if releasedAt.Valid {
		t := releasedAt.Time
		l.ReleasedAt = &t
	}
	l.Checksum = checksum.String
	return &l, nil
}
