// Package storage persists programs and settings in a local SQLite file
// and, optionally, the workout history in PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/milnet2/coxswain/internal/workout"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a program or workout does not exist.
var ErrNotFound = errors.New("not found")

const (
	keySelected = "selected_program"
	keyOpenEnd  = "open_end"
	keyHeadsUp  = "heads_up"
	keySnapshot = "last_snapshot"
)

// Defaults seeds settings that were never written.
type Defaults struct {
	OpenEnd bool
	HeadsUp bool
}

// Store keeps programs, settings and the last snapshot on local disk.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite store at dir/coxswain.db.
func Open(dir string, defaults Defaults) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir %s: %w", dir, err)
	}

	dbPath := filepath.Join(dir, "coxswain.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS programs (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			segments   TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating state tables: %w", err)
		}
	}

	s := &Store{db: db}
	for key, value := range map[string]bool{keyOpenEnd: defaults.OpenEnd, keyHeadsUp: defaults.HeadsUp} {
		if _, err := db.Exec(`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`,
			key, strconv.FormatBool(value)); err != nil {
			db.Close()
			return nil, fmt.Errorf("seeding %s: %w", key, err)
		}
	}
	return s, nil
}

// Close closes the state database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Programs lists the stored programs in the order they were created.
func (s *Store) Programs(ctx context.Context) ([]workout.Program, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, segments FROM programs ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying programs: %w", err)
	}
	defer rows.Close()

	programs := []workout.Program{}
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		programs = append(programs, *p)
	}
	return programs, rows.Err()
}

// Program returns the program with the given id.
func (s *Store) Program(ctx context.Context, id uuid.UUID) (*workout.Program, error) {
	p, err := scanProgram(s.db.QueryRowContext(ctx,
		`SELECT id, name, segments FROM programs WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func scanProgram(row interface{ Scan(dest ...any) error }) (*workout.Program, error) {
	var id, segments string
	var p workout.Program
	if err := row.Scan(&id, &p.Name, &segments); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning program: %w", err)
	}
	var err error
	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("program id %q: %w", id, err)
	}
	if err := json.Unmarshal([]byte(segments), &p.Segments); err != nil {
		return nil, fmt.Errorf("program %s segments: %w", id, err)
	}
	return &p, nil
}

// SaveProgram validates and stores p, assigning an id when it has none.
// An existing program with the same id is replaced.
func (s *Store) SaveProgram(ctx context.Context, p *workout.Program) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	segments, err := json.Marshal(p.Segments)
	if err != nil {
		return fmt.Errorf("encoding segments: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO programs (id, name, segments) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, segments = excluded.segments`,
		p.ID.String(), p.Name, string(segments))
	if err != nil {
		return fmt.Errorf("saving program: %w", err)
	}
	return nil
}

// DeleteProgram removes a program and clears it from the selection.
func (s *Store) DeleteProgram(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM programs WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("deleting program: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ? AND value = ?`, keySelected, id.String())
	return err
}

// SelectedProgramID returns the id of the selected program, uuid.Nil when
// none is selected.
func (s *Store) SelectedProgramID(ctx context.Context) (uuid.UUID, error) {
	v, ok, err := s.get(ctx, keySelected)
	if err != nil || !ok {
		return uuid.Nil, err
	}
	return uuid.Parse(v)
}

// SelectedProgram returns the selected program, nil when none is selected
// or it was deleted.
func (s *Store) SelectedProgram(ctx context.Context) (*workout.Program, error) {
	id, err := s.SelectedProgramID(ctx)
	if err != nil || id == uuid.Nil {
		return nil, err
	}
	p, err := s.Program(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// SetSelectedProgram records the selection. uuid.Nil clears it.
func (s *Store) SetSelectedProgram(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		_, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, keySelected)
		return err
	}
	return s.set(ctx, keySelected, id.String())
}

// OpenEnd reports whether sessions keep measuring after a program finished.
func (s *Store) OpenEnd(ctx context.Context) (bool, error) {
	return s.getBool(ctx, keyOpenEnd)
}

func (s *Store) SetOpenEnd(ctx context.Context, v bool) error {
	return s.set(ctx, keyOpenEnd, strconv.FormatBool(v))
}

// HeadsUp reports whether unattended notifications ask for attention.
func (s *Store) HeadsUp(ctx context.Context) (bool, error) {
	return s.getBool(ctx, keyHeadsUp)
}

func (s *Store) SetHeadsUp(ctx context.Context, v bool) error {
	return s.set(ctx, keyHeadsUp, strconv.FormatBool(v))
}

// LastSnapshot returns the last snapshot saved, the zero snapshot when
// there is none.
func (s *Store) LastSnapshot(ctx context.Context) (workout.Snapshot, error) {
	var snap workout.Snapshot
	v, ok, err := s.get(ctx, keySnapshot)
	if err != nil || !ok {
		return snap, err
	}
	if err := json.Unmarshal([]byte(v), &snap); err != nil {
		return workout.Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}

func (s *Store) SaveSnapshot(ctx context.Context, snap workout.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return s.set(ctx, keySnapshot, string(b))
}

func (s *Store) get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) getBool(ctx context.Context, key string) (bool, error) {
	v, ok, err := s.get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return strconv.ParseBool(v)
}

func (s *Store) set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}
