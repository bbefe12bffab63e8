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

package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fleettools/squawk/pkg/eventstore"
	"github.com/fleettools/squawk/pkg/fsutil"
)

const createCheckpointsTableSQL = `
CREATE TABLE IF NOT EXISTS checkpoints (
    id         VARCHAR(64) PRIMARY KEY,
    mission_id VARCHAR(64) NOT NULL,
    timestamp  TIMESTAMP NOT NULL,
    data       TEXT NOT NULL,
    consumed_at TIMESTAMP,
    expires_at  TIMESTAMP
)`

const createCheckpointsMissionIdxSQL = `CREATE INDEX IF NOT EXISTS idx_checkpoints_mission ON checkpoints(mission_id, timestamp)`

// ErrNotFound is returned for an unknown checkpoint id.
var ErrNotFound = errors.New("checkpoint: not found")

// Storage persists checkpoints to the primary relational store and
// backs each one up to a JSON file under dataRoot/checkpoints. Reads
// prefer the primary store; a file read is only attempted on a primary
// miss or corruption.
type Storage struct {
	db       *sql.DB
	dialect  string
	events   *eventstore.Store
	dataRoot string
}

// NewStorage opens (and migrates) the checkpoint store.
func NewStorage(db *sql.DB, dialect string, events *eventstore.Store, dataRoot string) (*Storage, error) {
	s := &Storage{db: db, dialect: dialect, events: events, dataRoot: dataRoot}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, stmt := range []string{createCheckpointsTableSQL, createCheckpointsMissionIdxSQL} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize checkpoint store schema: %w", err)
		}
	}
	return s, nil
}

func (s *Storage) rebind(query string) string {
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

// Save writes cp to the primary store and its JSON backup in one
// transaction against the database, emitting a checkpoint_created
// event; the file write happens after the database commit succeeds, so
// a file-write failure degrades (logged) rather than losing the primary
// record.
func (s *Storage) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(`
INSERT INTO checkpoints (id, mission_id, timestamp, data, consumed_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)`),
		cp.ID, cp.MissionID, cp.Timestamp, string(data), cp.ConsumedAt, cp.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}

	eventPayload, _ := json.Marshal(map[string]interface{}{
		"checkpoint_id": cp.ID, "trigger": string(cp.Trigger), "progress_percent": cp.ProgressPercent,
	})
	if _, err := s.events.Append(ctx, tx, eventstore.AppendInput{
		StreamType: "mission", StreamID: cp.MissionID, EventType: "checkpoint_created", Data: eventPayload, OccurredAt: cp.Timestamp,
	}); err != nil {
		return fmt.Errorf("failed to record checkpoint_created event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}

	if err := s.writeFileBackup(cp, data); err != nil {
		slog.Warn("checkpoint file backup failed", "checkpoint_id", cp.ID, "mission_id", cp.MissionID, "error", err)
	}
	return nil
}

func (s *Storage) writeFileBackup(cp *Checkpoint, data []byte) error {
	dir, err := fsutil.EnsureCheckpointDir(s.dataRoot, cp.MissionID)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, cp.ID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	latest := filepath.Join(dir, "latest.json")
	return os.WriteFile(latest, data, 0644)
}

// Get returns a checkpoint by id, preferring the primary store; on a
// primary miss it is simply not found (the file backup is addressed
// only via GetLatest, since files are keyed by mission, not lookup by
// checkpoint id alone).
func (s *Storage) Get(ctx context.Context, id string) (*Checkpoint, error) {
	var data string
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT data FROM checkpoints WHERE id = ?"), id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal([]byte(data), &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &cp, nil
}

// GetLatest returns the most recent checkpoint for a mission, whether
// or not it has been consumed (callers check ConsumedAt), preferring the primary store; on a primary miss it falls
// back to the mission's latest.json file backup, ignoring it (with a
// log line) if the file is corrupt.
func (s *Storage) GetLatest(ctx context.Context, missionID string) (*Checkpoint, error) {
	var data string
	err := s.db.QueryRowContext(ctx, s.rebind(`
SELECT data FROM checkpoints WHERE mission_id = ? ORDER BY timestamp DESC LIMIT 1`), missionID).Scan(&data)
	if err == nil {
		var cp Checkpoint
		if jsonErr := json.Unmarshal([]byte(data), &cp); jsonErr == nil {
			return &cp, nil
		}
		slog.Warn("primary checkpoint record corrupt, falling back to file", "mission_id", missionID)
	} else if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query latest checkpoint: %w", err)
	}

	path := filepath.Join(s.dataRoot, "checkpoints", missionID, "latest.json")
	raw, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, ErrNotFound
	}
	var cp Checkpoint
	if jsonErr := json.Unmarshal(raw, &cp); jsonErr != nil {
		slog.Warn("checkpoint file backup corrupt", "mission_id", missionID, "path", path, "error", jsonErr)
		return nil, ErrNotFound
	}
	return &cp, nil
}

// List returns checkpoints, optionally filtered by mission, newest
// first, honoring limit (0 means unbounded).
func (s *Storage) List(ctx context.Context, missionID string, limit int) ([]*Checkpoint, error) {
	query := "SELECT data FROM checkpoints WHERE 1=1"
	var args []interface{}
	if missionID != "" {
		query += " AND mission_id = ?"
		args = append(args, missionID)
	}
	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var cp Checkpoint
		if err := json.Unmarshal([]byte(data), &cp); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
		}
		out = append(out, &cp)
	}
	return out, rows.Err()
}

// MarkConsumed sets consumed_at = now for a checkpoint, used by
// recovery's at-most-once consumption rule.
func (s *Storage) MarkConsumed(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, s.rebind("UPDATE checkpoints SET consumed_at = ? WHERE id = ?"), now, id)
	return err
}

// Prune deletes checkpoints older than olderThan, always keeping the
// keepPerMission most recent per mission; missions listed in
// terminalMissions keep only their single final checkpoint.
func (s *Storage) Prune(ctx context.Context, olderThan time.Time, keepPerMission int, terminalMissions map[string]bool) (int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT mission_id FROM checkpoints")
	if err != nil {
		return 0, fmt.Errorf("failed to list checkpoint missions: %w", err)
	}
	var missionIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		missionIDs = append(missionIDs, id)
	}
	rows.Close()

	deleted := 0
	for _, missionID := range missionIDs {
		keep := keepPerMission
		if terminalMissions[missionID] {
			keep = 1
		}
		n, err := s.pruneMission(ctx, missionID, olderThan, keep)
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	return deleted, nil
}

func (s *Storage) pruneMission(ctx context.Context, missionID string, olderThan time.Time, keep int) (int, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, timestamp FROM checkpoints WHERE mission_id = ? ORDER BY timestamp DESC`), missionID)
	if err != nil {
		return 0, err
	}
	type row struct {
		id string
		ts time.Time
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.ts); err != nil {
			rows.Close()
			return 0, err
		}
		all = append(all, r)
	}
	rows.Close()

	deleted := 0
	for i, r := range all {
		if i < keep {
			continue // always keep the N most recent
		}
		if r.ts.After(olderThan) {
			continue // not yet old enough
		}
		if _, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM checkpoints WHERE id = ?"), r.id); err != nil {
			return deleted, fmt.Errorf("failed to prune checkpoint %s: %w", r.id, err)
		}
		deleted++
	}
	return deleted, nil
}
