package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nugget/resume-interviewer/internal/profile"
)

// CreateSession stores a new session for the subject bound to p.
func (s *Store) CreateSession(subject string, p *profile.Profile) (*profile.Session, error) {
	sess := profile.NewSession(subject, p.ID)
	if err := s.SaveSession(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// SaveSession inserts or replaces a session.
func (s *Store) SaveSession(sess *profile.Session) error {
	sess.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO sessions (id, subject, profile_id, state, archived, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			profile_id = excluded.profile_id,
			state = excluded.state,
			archived = excluded.archived,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		sess.ID, sess.Subject, sess.ProfileID, string(sess.State), boolInt(sess.Archived),
		string(data), formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) querySession(query string, args ...any) (*profile.Session, error) {
	var data string
	err := s.db.QueryRow(query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess profile.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// ActiveSession returns the subject's live session: the newest
// non-archived session whose profile is active.
func (s *Store) ActiveSession(subject string) (*profile.Session, error) {
	sess, err := s.querySession(`
		SELECT s.data FROM sessions s
		JOIN profiles p ON p.id = s.profile_id
		WHERE s.subject = ? AND s.archived = 0 AND p.archived = 0 AND p.status != ?
		ORDER BY s.rowid DESC LIMIT 1`,
		subject, string(profile.StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("active session for %s: %w", subject, err)
	}
	return sess, nil
}

// SessionForProfile returns the newest non-archived session bound to a
// profile.
func (s *Store) SessionForProfile(profileID string) (*profile.Session, error) {
	sess, err := s.querySession(`
		SELECT data FROM sessions
		WHERE profile_id = ? AND archived = 0
		ORDER BY rowid DESC LIMIT 1`, profileID)
	if err != nil {
		return nil, fmt.Errorf("session for profile %s: %w", profileID, err)
	}
	return sess, nil
}

// ArchiveSessions supersedes every live session of the subject.
func (s *Store) ArchiveSessions(subject string) error {
	rows, err := s.db.Query(`SELECT data FROM sessions WHERE subject = ? AND archived = 0`, subject)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	var live []*profile.Session
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			rows.Close()
			return fmt.Errorf("scan session: %w", err)
		}
		var sess profile.Session
		if err := json.Unmarshal([]byte(data), &sess); err != nil {
			rows.Close()
			return fmt.Errorf("decode session: %w", err)
		}
		live = append(live, &sess)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for _, sess := range live {
		sess.Archived = true
		if err := s.SaveSession(sess); err != nil {
			return err
		}
	}
	return nil
}

// AppendTurn records one message of a session's conversation.
func (s *Store) AppendTurn(sessionID string, role profile.Role, content string) error {
	_, err := s.db.Exec(
		`INSERT INTO turns (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(role), content, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit of the session's latest turns, oldest
// first.
func (s *Store) RecentTurns(sessionID string, limit int) ([]profile.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(`
		SELECT role, content, created_at FROM turns
		WHERE session_id = ?
		ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	defer rows.Close()

	var turns []profile.Turn
	for rows.Next() {
		var role, content, ts string
		if err := rows.Scan(&role, &content, &ts); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t, _ := time.Parse(time.RFC3339Nano, ts)
		turns = append(turns, profile.Turn{Role: profile.Role(role), Content: content, Timestamp: t})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}
