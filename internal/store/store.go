// Package store implements the persistence port the core depends on
// (spec §1: "a persistence port for history and workflow logs"): chat
// history and per-step workflow logs, backed by MySQL.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// ChatMessage is one persisted ChatHistory row (spec §3).
type ChatMessage struct {
	ID        int64
	AdminID   int64
	SessionID string
	Role      string // "user" or "assistant"
	Content   string
	ModelName string
	CreatedAt time.Time
}

// WorkflowLogEntry is one persisted WorkflowLog row (spec §3).
type WorkflowLogEntry struct {
	SessionID    string
	StepName     string
	InputJSON    string
	OutputJSON   string
	Status       string // "success" or "failed"
	ErrorMessage string
	RiskLevel    string // "low" or "medium", per SPEC_FULL §4
}

// SessionPreview is one row of the session listing (spec §6).
type SessionPreview struct {
	SessionID string
	Preview   string
	CreatedAt time.Time
}

// PersistRequest bundles one request's persistence writes so they commit
// atomically (spec §4.7 step 6, §5 "Commit discipline").
type PersistRequest struct {
	AdminID        int64
	SessionID      string
	UserMessage    string
	AssistantReply string
	ModelName      string
	WorkflowLogs   []WorkflowLogEntry
}

// Store is the persistence port.
type Store interface {
	// LastUserMessages returns up to n prior user messages for the
	// session, oldest first, excluding soft-deleted rows.
	LastUserMessages(ctx context.Context, sessionID string, n int) ([]string, error)

	// Persist commits a ChatHistory user+assistant pair plus the
	// request's WorkflowLog rows in one transaction. On failure it rolls
	// back and attempts a best-effort failure log in a fresh transaction.
	Persist(ctx context.Context, req PersistRequest) error

	// ListSessions returns a page of non-deleted sessions for an admin.
	ListSessions(ctx context.Context, adminID int64, offset, limit int) ([]SessionPreview, error)

	// ListMessages returns a page of non-deleted messages for a session.
	ListMessages(ctx context.Context, adminID int64, sessionID string, offset, limit int) ([]ChatMessage, error)

	// SoftDeleteSession marks every row of one session deleted.
	SoftDeleteSession(ctx context.Context, adminID int64, sessionID string) error

	// SoftDeleteAllSessions marks every row of every session for an admin deleted.
	SoftDeleteAllSessions(ctx context.Context, adminID int64) error
}

// MySQLStore is the production Store.
type MySQLStore struct {
	DB  *sql.DB
	Log *slog.Logger
}

// NewMySQLStore wraps a connection pool.
func NewMySQLStore(conn *sql.DB, log *slog.Logger) *MySQLStore {
	return &MySQLStore{DB: conn, Log: log}
}

func (s *MySQLStore) LastUserMessages(ctx context.Context, sessionID string, n int) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT content FROM chat_history
		WHERE session_id = ? AND role = 'user' AND is_deleted = 0
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("store: last user messages: %w", err)
	}
	defer rows.Close()

	var reversed []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		reversed = append(reversed, content)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]string, len(reversed))
	for i, v := range reversed {
		out[len(reversed)-1-i] = v
	}
	return out, nil
}

func (s *MySQLStore) Persist(ctx context.Context, req PersistRequest) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}

	if err := s.persistTx(ctx, tx, req); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.Log.Error("store: rollback failed", "error", rbErr)
		}
		s.bestEffortFailureLog(ctx, req, err)
		return fmt.Errorf("store: persist failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		s.bestEffortFailureLog(ctx, req, err)
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (s *MySQLStore) persistTx(ctx context.Context, tx *sql.Tx, req PersistRequest) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_history (admin_id, session_id, role, content, model_name)
		VALUES (?, ?, 'user', ?, ?)`, req.AdminID, req.SessionID, req.UserMessage, req.ModelName); err != nil {
		return fmt.Errorf("insert user message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_history (admin_id, session_id, role, content, model_name)
		VALUES (?, ?, 'assistant', ?, ?)`, req.AdminID, req.SessionID, req.AssistantReply, req.ModelName); err != nil {
		return fmt.Errorf("insert assistant message: %w", err)
	}

	for _, wl := range req.WorkflowLogs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO workflow_log (session_id, step_name, input_json, output_json, status, error_message, risk_level)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			wl.SessionID, wl.StepName, wl.InputJSON, nullableString(wl.OutputJSON), wl.Status, nullableString(wl.ErrorMessage), wl.RiskLevel); err != nil {
			return fmt.Errorf("insert workflow log %s: %w", wl.StepName, err)
		}
	}
	return nil
}

// bestEffortFailureLog writes a single failure WorkflowLog row in a fresh
// transaction after the primary persist attempt failed (spec §5 "Commit
// discipline", §7 "best-effort failure logs are written in a fresh
// transaction").
func (s *MySQLStore) bestEffortFailureLog(ctx context.Context, req PersistRequest, cause error) {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO workflow_log (session_id, step_name, input_json, status, error_message, risk_level)
		VALUES (?, 'result_return', ?, 'failed', ?, 'medium')`,
		req.SessionID, `{"admin_id":`+fmt.Sprint(req.AdminID)+`}`, cause.Error())
	if err != nil {
		s.Log.Error("store: best-effort failure log also failed", "session_id", req.SessionID, "error", err)
	}
}

func (s *MySQLStore) ListSessions(ctx context.Context, adminID int64, offset, limit int) ([]SessionPreview, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT session_id, MIN(content) AS preview, MIN(created_at) AS created_at
		FROM (
			SELECT session_id, content, created_at,
			       ROW_NUMBER() OVER (PARTITION BY session_id ORDER BY created_at ASC, id ASC) AS rn
			FROM chat_history
			WHERE admin_id = ? AND role = 'user' AND is_deleted = 0
		) first_messages
		WHERE rn = 1
		GROUP BY session_id
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`, adminID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionPreview
	for rows.Next() {
		var p SessionPreview
		var content string
		if err := rows.Scan(&p.SessionID, &content, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		p.Preview = truncatePreview(content)
		out = append(out, p)
	}
	return out, rows.Err()
}

// truncatePreview implements spec §6's "first user message truncated to 7 chars + …".
func truncatePreview(content string) string {
	runes := []rune(content)
	if len(runes) <= 7 {
		return content
	}
	return string(runes[:7]) + "…"
}

func (s *MySQLStore) ListMessages(ctx context.Context, adminID int64, sessionID string, offset, limit int) ([]ChatMessage, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, admin_id, session_id, role, content, model_name, created_at
		FROM chat_history
		WHERE admin_id = ? AND session_id = ? AND is_deleted = 0
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?`, adminID, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.AdminID, &m.SessionID, &m.Role, &m.Content, &m.ModelName, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan chat message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *MySQLStore) SoftDeleteSession(ctx context.Context, adminID int64, sessionID string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE chat_history SET is_deleted = 1 WHERE admin_id = ? AND session_id = ?`, adminID, sessionID)
	if err != nil {
		return fmt.Errorf("store: soft delete session: %w", err)
	}
	return nil
}

func (s *MySQLStore) SoftDeleteAllSessions(ctx context.Context, adminID int64) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE chat_history SET is_deleted = 1 WHERE admin_id = ?`, adminID)
	if err != nil {
		return fmt.Errorf("store: soft delete all sessions: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
