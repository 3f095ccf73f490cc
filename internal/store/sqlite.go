package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/formvoice/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		current_step TEXT NOT NULL,
		answers TEXT NOT NULL,
		step_history TEXT NOT NULL,
		voice_mode INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS session_audit (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		action TEXT NOT NULL,
		step TEXT NOT NULL,
		answer TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_session ON session_audit(session_id, created_at);
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

// LoadSession retrieves a session by ID.
func (s *SQLiteStore) LoadSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT session_id, current_step, answers, step_history,
		       voice_mode, created_at, updated_at
		FROM sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var session domain.Session
	var answersJSON, historyJSON string
	var voiceMode int
	var createdAt, updatedAt int64

	err := row.Scan(
		&session.ID, &session.CurrentStep, &answersJSON, &historyJSON,
		&voiceMode, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	var rawAnswers map[string]any
	if err := json.Unmarshal([]byte(answersJSON), &rawAnswers); err != nil {
		slog.Warn("Session answers column is not valid JSON", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("session %s answers: %w", sessionID, ErrCorruptSession)
	}
	session.Answers = domain.NormalizeAnswers(rawAnswers)

	if err := json.Unmarshal([]byte(historyJSON), &session.History); err != nil {
		slog.Warn("Session history column is not valid JSON", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("session %s history: %w", sessionID, ErrCorruptSession)
	}
	if session.History == nil {
		session.History = []domain.StepRef{}
	}
	if session.CurrentStep == "" {
		return nil, fmt.Errorf("session %s has empty current step: %w", sessionID, ErrCorruptSession)
	}

	session.VoiceMode = voiceMode != 0
	session.CreatedAt = time.Unix(0, createdAt)
	session.UpdatedAt = time.Unix(0, updatedAt)

	return &session, nil
}

// SaveSession atomically creates or replaces the session record.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *domain.Session) error {
	answersJSON, err := json.Marshal(session.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	historyJSON, err := json.Marshal(session.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	query := `
	INSERT INTO sessions (session_id, current_step, answers, step_history, voice_mode, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		current_step = excluded.current_step,
		answers = excluded.answers,
		step_history = excluded.step_history,
		voice_mode = excluded.voice_mode,
		updated_at = excluded.updated_at`

	voiceMode := 0
	if session.VoiceMode {
		voiceMode = 1
	}

	_, err = s.db.ExecContext(ctx, query,
		session.ID, string(session.CurrentStep), string(answersJSON), string(historyJSON),
		voiceMode, session.CreatedAt.UnixNano(), session.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// AppendAudit appends one entry to the audit log.
func (s *SQLiteStore) AppendAudit(ctx context.Context, entry *domain.AuditEntry) error {
	query := `
	INSERT INTO session_audit (id, session_id, action, step, answer, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	var answer interface{}
	if entry.Answer != "" {
		answer = entry.Answer
	}

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.SessionID, string(entry.Action), string(entry.Step),
		answer, entry.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the most recent audit entries for a session, newest first.
func (s *SQLiteStore) ListAudit(ctx context.Context, sessionID string, limit int) ([]*domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, session_id, action, step, answer, created_at
		FROM session_audit
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close audit rows", "error", closeErr)
		}
	}()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var entry domain.AuditEntry
		var answer sql.NullString
		var createdAt int64

		if err := rows.Scan(
			&entry.ID, &entry.SessionID, &entry.Action, &entry.Step,
			&answer, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}

		entry.Answer = answer.String
		entry.CreatedAt = time.Unix(0, createdAt)
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}

	return entries, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
