// Package chatlog persists the question/answer transcript per session.
package chatlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	DefaultSessionID    = "default"
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

type Entry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	SQLQuery  *string   `json:"sql_query"`
	LatencyMS *int64    `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

type Repository interface {
	// Append writes all entries in one transaction, in order.
	Append(ctx context.Context, entries ...Entry) error
	// History returns the newest limit entries of a session, oldest first.
	History(ctx context.Context, sessionID string, limit int) ([]Entry, error)
}

// SQLRepository uses $n placeholders, which both DuckDB and PostgreSQL accept.
type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

const insertEntrySQL = `
INSERT INTO chat_logs (session_id, role, content, sql_query, latency_ms)
VALUES ($1, $2, $3, $4, $5)`

func (r *SQLRepository) Append(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chat log transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, entry := range entries {
		sessionID := entry.SessionID
		if sessionID == "" {
			sessionID = DefaultSessionID
		}
		if _, err := tx.ExecContext(ctx, insertEntrySQL,
			sessionID,
			entry.Role,
			entry.Content,
			nullString(entry.SQLQuery),
			nullInt64(entry.LatencyMS),
		); err != nil {
			return fmt.Errorf("insert %s chat log entry: %w", entry.Role, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chat log transaction: %w", err)
	}
	return nil
}

const historySQL = `
SELECT id, session_id, role, content, sql_query, latency_ms, created_at
FROM chat_logs
WHERE session_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`

func (r *SQLRepository) History(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	limit, err := NormalizeLimit(limit)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, historySQL, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			entry   Entry
			sqlText sql.NullString
			latency sql.NullInt64
		)
		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.Role, &entry.Content, &sqlText, &latency, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat history: %w", err)
		}
		if sqlText.Valid {
			entry.SQLQuery = &sqlText.String
		}
		if latency.Valid {
			entry.LatencyMS = &latency.Int64
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat history: %w", err)
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

var ErrInvalidLimit = errors.New("limit must be between 1 and 500")

// NormalizeLimit maps 0 to the default and rejects values outside 1..500.
func NormalizeLimit(limit int) (int, error) {
	if limit == 0 {
		return DefaultHistoryLimit, nil
	}
	if limit < 1 || limit > MaxHistoryLimit {
		return 0, ErrInvalidLimit
	}
	return limit, nil
}

var duckDBSchema = []string{
	`CREATE SEQUENCE IF NOT EXISTS chat_logs_id_seq START 1`,
	`CREATE TABLE IF NOT EXISTS chat_logs (
	id BIGINT PRIMARY KEY DEFAULT nextval('chat_logs_id_seq'),
	session_id VARCHAR NOT NULL,
	role VARCHAR NOT NULL,
	content VARCHAR NOT NULL,
	sql_query VARCHAR,
	latency_ms BIGINT,
	created_at TIMESTAMP NOT NULL DEFAULT current_timestamp
)`,
}

// EnsureDuckDBSchema creates the chat_logs table next to the assessments
// table. PostgreSQL deployments use the migrations instead.
func EnsureDuckDBSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range duckDBSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create chat log schema: %w", err)
		}
	}
	return nil
}

func nullString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}
