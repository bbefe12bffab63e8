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

package mission

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	createMissionsTableSQL = `
CREATE TABLE IF NOT EXISTS missions (
    id                VARCHAR(64) PRIMARY KEY,
    title             TEXT NOT NULL,
    description       TEXT,
    strategy          VARCHAR(32) NOT NULL,
    status            VARCHAR(32) NOT NULL,
    total_sorties     INTEGER NOT NULL DEFAULT 0,
    completed_sorties INTEGER NOT NULL DEFAULT 0,
    created_at        TIMESTAMP NOT NULL,
    updated_at        TIMESTAMP NOT NULL
)`

	createSortiesTableSQL = `
CREATE TABLE IF NOT EXISTS sorties (
    id                    VARCHAR(80) PRIMARY KEY,
    mission_id            VARCHAR(64) NOT NULL,
    sortie_index          INTEGER NOT NULL,
    title                 TEXT NOT NULL,
    description           TEXT,
    files                 TEXT NOT NULL,
    dependencies          TEXT NOT NULL,
    complexity            INTEGER NOT NULL,
    type                  VARCHAR(32) NOT NULL,
    status                VARCHAR(32) NOT NULL,
    assigned_to           VARCHAR(64),
    progress              INTEGER NOT NULL DEFAULT 0,
    progress_notes        TEXT,
    estimated_duration_ms BIGINT,
    created_at            TIMESTAMP NOT NULL,
    updated_at            TIMESTAMP NOT NULL,
    UNIQUE (mission_id, sortie_index)
)`

	createSortiesMissionIdxSQL = `CREATE INDEX IF NOT EXISTS idx_sorties_mission ON sorties(mission_id)`
	createSortiesStatusIdxSQL  = `CREATE INDEX IF NOT EXISTS idx_sorties_status ON sorties(status)`
)

// Store persists missions and sorties, the read-optimized projection
// updated transactionally alongside every mission/sortie event append.
type Store struct {
	db      *sql.DB
	dialect string
}

// New opens (and migrates) the mission/sortie store.
func New(db *sql.DB, dialect string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	s := &Store{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize mission store schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, stmt := range []string{createMissionsTableSQL, createSortiesTableSQL, createSortiesMissionIdxSQL, createSortiesStatusIdxSQL} {
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

// CreateMission inserts a mission with its sorties inside tx, so the
// caller can append the decomposition event in the same transaction.
func (s *Store) CreateMission(ctx context.Context, tx *sql.Tx, m *Mission, sorties []*Sortie) error {
	_, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO missions (id, title, description, strategy, status, total_sorties, completed_sorties, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.Title, m.Description, string(m.Strategy), string(m.Status), m.TotalSorties, m.CompletedSorties, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert mission: %w", err)
	}

	for _, sortie := range sorties {
		if err := s.insertSortie(ctx, tx, sortie); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertSortie(ctx context.Context, tx *sql.Tx, sortie *Sortie) error {
	files, err := json.Marshal(sortie.Files)
	if err != nil {
		return fmt.Errorf("failed to encode sortie files: %w", err)
	}
	deps, err := json.Marshal(sortie.Dependencies)
	if err != nil {
		return fmt.Errorf("failed to encode sortie dependencies: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
INSERT INTO sorties (id, mission_id, sortie_index, title, description, files, dependencies, complexity, type, status, assigned_to, progress, progress_notes, estimated_duration_ms, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sortie.ID, sortie.MissionID, sortie.SortieIndex, sortie.Title, sortie.Description,
		string(files), string(deps), sortie.Complexity, string(sortie.Type), string(sortie.Status),
		nullableString(sortie.AssignedTo), sortie.Progress, nullableString(sortie.ProgressNotes),
		sortie.EstimatedDurationMS, sortie.CreatedAt, sortie.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert sortie: %w", err)
	}
	return nil
}

// UpdateSortie persists a sortie's mutable fields inside tx.
func (s *Store) UpdateSortie(ctx context.Context, tx *sql.Tx, sortie *Sortie) error {
	_, err := tx.ExecContext(ctx, s.rebind(`
UPDATE sorties SET status = ?, assigned_to = ?, progress = ?, progress_notes = ?, updated_at = ? WHERE id = ?`),
		string(sortie.Status), nullableString(sortie.AssignedTo), sortie.Progress,
		nullableString(sortie.ProgressNotes), sortie.UpdatedAt, sortie.ID)
	if err != nil {
		return fmt.Errorf("failed to update sortie: %w", err)
	}
	return nil
}

// UpdateMissionProgress persists a mission's status/completed_sorties
// inside tx.
func (s *Store) UpdateMissionProgress(ctx context.Context, tx *sql.Tx, m *Mission) error {
	_, err := tx.ExecContext(ctx, s.rebind(`
UPDATE missions SET status = ?, completed_sorties = ?, updated_at = ? WHERE id = ?`),
		string(m.Status), m.CompletedSorties, m.UpdatedAt, m.ID)
	if err != nil {
		return fmt.Errorf("failed to update mission: %w", err)
	}
	return nil
}

// GetMission returns a mission by id.
func (s *Store) GetMission(ctx context.Context, id string) (*Mission, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
SELECT id, title, description, strategy, status, total_sorties, completed_sorties, created_at, updated_at
FROM missions WHERE id = ?`), id)
	return scanMission(row)
}

// ListMissions returns missions matching the optional status/strategy
// filters, newest first, honoring limit/offset (limit 0 means
// unbounded).
func (s *Store) ListMissions(ctx context.Context, status Status, strategy Strategy, limit, offset int) ([]*Mission, int, error) {
	where := "WHERE 1=1"
	var args []interface{}
	if status != "" {
		where += " AND status = ?"
		args = append(args, string(status))
	}
	if strategy != "" {
		where += " AND strategy = ?"
		args = append(args, string(strategy))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM missions "+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count missions: %w", err)
	}

	query := "SELECT id, title, description, strategy, status, total_sorties, completed_sorties, created_at, updated_at FROM missions " + where + " ORDER BY created_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list missions: %w", err)
	}
	defer rows.Close()

	var out []*Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

// DeleteMission removes a mission and its sorties inside tx (cascade
// delete); callers append the corresponding event in the same
// transaction.
func (s *Store) DeleteMission(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM sorties WHERE mission_id = ?"), id); err != nil {
		return fmt.Errorf("failed to delete sorties: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.rebind("DELETE FROM missions WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to delete mission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSortie returns a sortie by id.
func (s *Store) GetSortie(ctx context.Context, id string) (*Sortie, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
SELECT id, mission_id, sortie_index, title, description, files, dependencies, complexity, type, status, assigned_to, progress, progress_notes, estimated_duration_ms, created_at, updated_at
FROM sorties WHERE id = ?`), id)
	return scanSortie(row)
}

// ListSorties returns every sortie of a mission, ordered by index,
// optionally filtered by status.
func (s *Store) ListSorties(ctx context.Context, missionID string, status SortieStatus) ([]*Sortie, error) {
	query := `SELECT id, mission_id, sortie_index, title, description, files, dependencies, complexity, type, status, assigned_to, progress, progress_notes, estimated_duration_ms, created_at, updated_at FROM sorties WHERE mission_id = ?`
	args := []interface{}{missionID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY sortie_index ASC"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sorties: %w", err)
	}
	defer rows.Close()

	var out []*Sortie
	for rows.Next() {
		sortie, err := scanSortie(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sortie)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMission(row rowScanner) (*Mission, error) {
	var m Mission
	var strategy, status string
	if err := row.Scan(&m.ID, &m.Title, &m.Description, &strategy, &status, &m.TotalSorties, &m.CompletedSorties, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan mission: %w", err)
	}
	m.Strategy = Strategy(strategy)
	m.Status = Status(status)
	return &m, nil
}

func scanSortie(row rowScanner) (*Sortie, error) {
	var sortie Sortie
	var sortieType, status string
	var files, deps string
	var assignedTo, notes sql.NullString
	var estimatedMS sql.NullInt64

	if err := row.Scan(&sortie.ID, &sortie.MissionID, &sortie.SortieIndex, &sortie.Title, &sortie.Description,
		&files, &deps, &sortie.Complexity, &sortieType, &status, &assignedTo, &sortie.Progress, &notes,
		&estimatedMS, &sortie.CreatedAt, &sortie.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan sortie: %w", err)
	}

	if err := json.Unmarshal([]byte(files), &sortie.Files); err != nil {
		return nil, fmt.Errorf("failed to decode sortie files: %w", err)
	}
	if err := json.Unmarshal([]byte(deps), &sortie.Dependencies); err != nil {
		return nil, fmt.Errorf("failed to decode sortie dependencies: %w", err)
	}
	sortie.Type = SortieType(sortieType)
	sortie.Status = SortieStatus(status)
	sortie.AssignedTo = assignedTo.String
	sortie.ProgressNotes = notes.String
	sortie.EstimatedDurationMS = estimatedMS.Int64
	return &sortie, nil
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
