package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Activity is one user's login state: whether any session currently
// holds the account and which session that is.
type Activity struct {
	UserID      string
	Email       string
	Active      bool
	SessionID   string
	LastLoginAt time.Time
}

// Store persists user activity in sqlite. This is the only durable
// state the sync core keeps; message history is deliberately not
// persisted.
type Store struct {
	db *sql.DB
}

const activitySchema = `
CREATE TABLE IF NOT EXISTS user_activity (
	user_id           TEXT PRIMARY KEY,
	email             TEXT NOT NULL DEFAULT '',
	is_active         INTEGER NOT NULL DEFAULT 0,
	active_session_id TEXT NOT NULL DEFAULT '',
	last_login_at     TIMESTAMP
);`

// OpenStore opens (creating if needed) the activity database.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open activity store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping activity store: %w", err)
	}
	if _, err := db.Exec(activitySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create activity schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Activity returns the stored state for a user. ErrNoActivity when the
// user has never logged in.
func (s *Store) Activity(ctx context.Context, userID string) (*Activity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, email, is_active, active_session_id, last_login_at
		 FROM user_activity WHERE user_id = ?`, userID)

	var a Activity
	var lastLogin sql.NullTime
	if err := row.Scan(&a.UserID, &a.Email, &a.Active, &a.SessionID, &lastLogin); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNoActivity
		}
		return nil, fmt.Errorf("query activity: %w", err)
	}
	if lastLogin.Valid {
		a.LastLoginAt = lastLogin.Time
	}
	return &a, nil
}

// MarkActive records that sessionID now holds the account.
func (s *Store) MarkActive(ctx context.Context, userID, email, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_activity (user_id, email, is_active, active_session_id, last_login_at)
		 VALUES (?, ?, 1, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			email = excluded.email,
			is_active = 1,
			active_session_id = excluded.active_session_id,
			last_login_at = excluded.last_login_at`,
		userID, email, sessionID, time.Now())
	if err != nil {
		return fmt.Errorf("mark active: %w", err)
	}
	return nil
}

// MarkInactive clears the account's active session.
func (s *Store) MarkInactive(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_activity SET is_active = 0, active_session_id = '' WHERE user_id = ?`,
		userID)
	if err != nil {
		return fmt.Errorf("mark inactive: %w", err)
	}
	return nil
}
