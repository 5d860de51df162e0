package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/twochairs/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements ClientRepository and ServerRepository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to keep SQLITE_BUSY rare
}

// NewSQLite opens (and migrates) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS client_sessions (
		mode TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transcript_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcript_session ON transcript_entries(session_id, id);

	CREATE TABLE IF NOT EXISTS server_users (
		id TEXT PRIMARY KEY,
		display_name TEXT,
		trusted_contact TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS server_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		mode TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		started_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS server_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL CHECK(role IN ('self','monster','angel')),
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_server_messages_session ON server_messages(session_id, id);

	CREATE TABLE IF NOT EXISTS server_alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		type TEXT NOT NULL,
		payload TEXT,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) exec(ctx context.Context, name, query string, args ...any) (sql.Result, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var result sql.Result
	err := withBusyRetry(ctx, name, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return result, nil
}

// ActiveSession returns the remembered session for mode.
func (s *SQLiteStore) ActiveSession(ctx context.Context, mode domain.Mode) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, created_at, updated_at FROM client_sessions WHERE mode = ?`, string(mode))

	var sess domain.Session
	var createdAt, updatedAt int64
	err := row.Scan(&sess.ID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan client session: %w", err)
	}

	sess.Mode = mode
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	return &sess, nil
}

// SaveActiveSession stores or replaces the session for its mode.
func (s *SQLiteStore) SaveActiveSession(ctx context.Context, session *domain.Session) error {
	now := time.Now()
	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := s.exec(ctx, "save client session", `
		INSERT INTO client_sessions (mode, session_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(mode) DO UPDATE SET
			session_id = excluded.session_id,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		string(session.Mode), session.ID, createdAt.Unix(), now.Unix())
	return err
}

// ClearActiveSession forgets the session for mode.
func (s *SQLiteStore) ClearActiveSession(ctx context.Context, mode domain.Mode) error {
	_, err := s.exec(ctx, "clear client session", `DELETE FROM client_sessions WHERE mode = ?`, string(mode))
	return err
}

// ListSessions returns every remembered session ordered by mode.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT mode, session_id, created_at, updated_at FROM client_sessions ORDER BY mode`)
	if err != nil {
		return nil, fmt.Errorf("query client sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close client session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		var sess domain.Session
		var mode string
		var createdAt, updatedAt int64
		if err := rows.Scan(&mode, &sess.ID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan client session row: %w", err)
		}
		sess.Mode = domain.Mode(mode)
		sess.CreatedAt = time.Unix(createdAt, 0)
		sess.UpdatedAt = time.Unix(updatedAt, 0)
		sessions = append(sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate client sessions: %w", err)
	}
	return sessions, nil
}

// AppendEntry adds one entry at the end of the session transcript.
func (s *SQLiteStore) AppendEntry(ctx context.Context, entry domain.TranscriptEntry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.exec(ctx, "append transcript entry",
		`INSERT INTO transcript_entries (session_id, role, text, created_at) VALUES (?, ?, ?, ?)`,
		entry.SessionID, string(entry.Role), entry.Text, ts.UnixMilli())
	return err
}

// Entries returns the transcript of a session in insertion order.
func (s *SQLiteStore) Entries(ctx context.Context, sessionID string) ([]domain.TranscriptEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, text, created_at FROM transcript_entries WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close transcript rows", "error", closeErr)
		}
	}()

	var entries []domain.TranscriptEntry
	for rows.Next() {
		var role string
		var createdAt int64
		entry := domain.TranscriptEntry{SessionID: sessionID}
		if err := rows.Scan(&role, &entry.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		entry.Role = domain.Role(role)
		entry.Timestamp = time.UnixMilli(createdAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript: %w", err)
	}
	return entries, nil
}

// ReplaceEntries swaps the transcript of a session for entries in one transaction.
func (s *SQLiteStore) ReplaceEntries(ctx context.Context, sessionID string, entries []domain.TranscriptEntry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return withBusyRetry(ctx, "replace transcript", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transcript replace: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_entries WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("clear transcript: %w", err)
		}
		now := time.Now()
		for _, e := range entries {
			ts := e.Timestamp
			if ts.IsZero() {
				ts = now
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO transcript_entries (session_id, role, text, created_at) VALUES (?, ?, ?, ?)`,
				sessionID, string(e.Role), e.Text, ts.UnixMilli()); err != nil {
				return fmt.Errorf("insert transcript entry: %w", err)
			}
		}
		return tx.Commit()
	})
}

// ClearEntries drops the transcript of a session.
func (s *SQLiteStore) ClearEntries(ctx context.Context, sessionID string) error {
	_, err := s.exec(ctx, "clear transcript", `DELETE FROM transcript_entries WHERE session_id = ?`, sessionID)
	return err
}

// CreateUser inserts a user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, userID, displayName, trustedContact string) error {
	_, err := s.exec(ctx, "create user",
		`INSERT INTO server_users (id, display_name, trusted_contact, created_at) VALUES (?, ?, ?, ?)`,
		userID, nullIfEmpty(displayName), nullIfEmpty(trustedContact), time.Now().Unix())
	return err
}

// CreateServerSession inserts an active session.
func (s *SQLiteStore) CreateServerSession(ctx context.Context, sessionID, userID string, mode domain.Mode) error {
	_, err := s.exec(ctx, "create session",
		`INSERT INTO server_sessions (id, user_id, mode, status, started_at) VALUES (?, ?, ?, 'active', ?)`,
		sessionID, nullIfEmpty(userID), string(mode), time.Now().Unix())
	return err
}

// ServerSessionStatus returns the session status.
func (s *SQLiteStore) ServerSessionStatus(ctx context.Context, sessionID string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM server_sessions WHERE id = ?`, sessionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("scan session status: %w", err)
	}
	return status, nil
}

// SetServerSessionStatus updates the session status.
func (s *SQLiteStore) SetServerSessionStatus(ctx context.Context, sessionID, status string) error {
	result, err := s.exec(ctx, "update session status",
		`UPDATE server_sessions SET status = ? WHERE id = ?`, status, sessionID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// InsertServerMessage appends a message to the session log.
func (s *SQLiteStore) InsertServerMessage(ctx context.Context, sessionID string, role domain.Role, text string) error {
	_, err := s.exec(ctx, "insert message",
		`INSERT INTO server_messages (session_id, role, text, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(role), text, time.Now().UnixMilli())
	return err
}

// ServerMessages returns the session log in insertion order.
func (s *SQLiteStore) ServerMessages(ctx context.Context, sessionID string) ([]domain.StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, text, created_at FROM server_messages WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var msgs []domain.StoredMessage
	for rows.Next() {
		var role string
		var createdAt int64
		msg := domain.StoredMessage{SessionID: sessionID}
		if err := rows.Scan(&msg.ID, &role, &msg.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = domain.Role(role)
		msg.CreatedAt = time.UnixMilli(createdAt)
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// InsertAlert records a safety alert raised for a session.
func (s *SQLiteStore) InsertAlert(ctx context.Context, sessionID, kind string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal alert payload: %w", err)
	}
	_, err = s.exec(ctx, "insert alert",
		`INSERT INTO server_alerts (session_id, type, payload, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, kind, string(body), time.Now().Unix())
	return err
}

// alertCount returns how many alerts of kind were recorded for a session.
func (s *SQLiteStore) alertCount(ctx context.Context, sessionID, kind string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM server_alerts WHERE session_id = ? AND type = ?`, sessionID, kind).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return n, nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
