// Package store persists profiles, sessions, and conversation turns in
// SQLite. Documents are stored as JSON columns next to the handful of
// columns the lookups filter on; every write is a single statement, so a
// save is atomic per document.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/nugget/resume-interviewer/internal/profile"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Store is a SQLite-backed profile and session store. All public methods
// are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// Open opens the database at path with the named driver: "sqlite3"
// (cgo, mattn/go-sqlite3) or "sqlite" (pure Go, modernc.org/sqlite).
func Open(driver, path string) (*Store, error) {
	var dsn string
	switch driver {
	case "", "sqlite3":
		driver = "sqlite3"
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	case "sqlite":
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	default:
		return nil, fmt.Errorf("unknown sqlite driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and creates the schema if needed.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id         TEXT PRIMARY KEY,
		subject    TEXT NOT NULL,
		status     TEXT NOT NULL,
		archived   INTEGER NOT NULL DEFAULT 0,
		data       TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_profiles_subject ON profiles(subject, archived);

	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		subject    TEXT NOT NULL,
		profile_id TEXT NOT NULL,
		state      TEXT NOT NULL,
		archived   INTEGER NOT NULL DEFAULT 0,
		data       TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_subject ON sessions(subject, archived);
	CREATE INDEX IF NOT EXISTS idx_sessions_profile ON sessions(profile_id);

	CREATE TABLE IF NOT EXISTS turns (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// CreateProfile stores a fresh incomplete profile for subject, seeded
// with the given scalars. Empty seed values are skipped.
func (s *Store) CreateProfile(subject string, seed map[string]any) (*profile.Profile, error) {
	p := profile.New(subject)
	for name, value := range seed {
		if !profile.IsEmpty(value) {
			p.SetScalar(name, value)
		}
	}
	if err := s.SaveProfile(p); err != nil {
		return nil, err
	}
	return p, nil
}

// SaveProfile inserts or replaces a profile document.
func (s *Store) SaveProfile(p *profile.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO profiles (id, subject, status, archived, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			archived = excluded.archived,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		p.ID, p.Subject, string(p.Status), boolInt(p.Archived), string(data),
		formatTime(p.CreatedAt), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save profile %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) queryProfile(query string, args ...any) (*profile.Profile, error) {
	var data string
	err := s.db.QueryRow(query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var p profile.Profile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

// Profile loads a profile by ID.
func (s *Store) Profile(id string) (*profile.Profile, error) {
	p, err := s.queryProfile(`SELECT data FROM profiles WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", id, err)
	}
	return p, nil
}

// ActiveProfile returns the subject's most recent profile that is
// neither archived nor completed.
func (s *Store) ActiveProfile(subject string) (*profile.Profile, error) {
	p, err := s.queryProfile(`
		SELECT data FROM profiles
		WHERE subject = ? AND archived = 0 AND status != ?
		ORDER BY rowid DESC LIMIT 1`,
		subject, string(profile.StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("active profile for %s: %w", subject, err)
	}
	return p, nil
}

// LatestProfile returns the subject's most recent non-archived profile,
// completed or not.
func (s *Store) LatestProfile(subject string) (*profile.Profile, error) {
	p, err := s.queryProfile(`
		SELECT data FROM profiles
		WHERE subject = ? AND archived = 0
		ORDER BY rowid DESC LIMIT 1`, subject)
	if err != nil {
		return nil, fmt.Errorf("latest profile for %s: %w", subject, err)
	}
	return p, nil
}

// Profiles lists every profile of a subject, newest first, archived ones
// included.
func (s *Store) Profiles(subject string) ([]*profile.Profile, error) {
	rows, err := s.db.Query(`SELECT data FROM profiles WHERE subject = ? ORDER BY rowid DESC`, subject)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []*profile.Profile
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		var p profile.Profile
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ArchiveProfile soft-deletes a profile.
func (s *Store) ArchiveProfile(p *profile.Profile) error {
	p.Archived = true
	return s.SaveProfile(p)
}
