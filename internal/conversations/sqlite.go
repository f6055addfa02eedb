package conversations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/relay/pkg/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite. Message parts and tool calls
// are stored as JSON columns; ordering comes from a per-conversation
// sequence number assigned at append time.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) the conversation database at
// the given path. The returned store owns the handle; use DB to share it
// with sibling stores.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := path + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize conversation schema: %w", err)
	}
	return store, nil
}

// DB exposes the underlying handle so sibling stores (skills, memory) can
// share one database file.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS conversations (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		title           TEXT NOT NULL DEFAULT '',
		active_skill_id TEXT NOT NULL DEFAULT '',
		message_count   INTEGER NOT NULL DEFAULT 0,
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id, updated_at DESC);

	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		seq             INTEGER NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL DEFAULT '',
		parts           TEXT NOT NULL DEFAULT '[]',
		tool_calls      TEXT NOT NULL DEFAULT '[]',
		tool_call_id    TEXT NOT NULL DEFAULT '',
		created_at      INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_order ON messages (conversation_id, seq);
	`)
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, conversation *models.Conversation) error {
	if conversation == nil {
		return errors.New("conversation is required")
	}
	if conversation.ID == "" {
		conversation.ID = uuid.NewString()
	}
	if conversation.CreatedAt.IsZero() {
		conversation.CreatedAt = time.Now()
	}
	conversation.UpdatedAt = conversation.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, title, active_skill_id, message_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)`,
		conversation.ID, conversation.UserID, conversation.Title, conversation.ActiveSkillID,
		conversation.CreatedAt.Unix(), conversation.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, active_skill_id, message_count, created_at, updated_at
		FROM conversations WHERE id = ?`, id)

	var conversation models.Conversation
	var createdAt, updatedAt int64
	err := row.Scan(&conversation.ID, &conversation.UserID, &conversation.Title,
		&conversation.ActiveSkillID, &conversation.MessageCount, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	conversation.CreatedAt = time.Unix(createdAt, 0)
	conversation.UpdatedAt = time.Unix(updatedAt, 0)
	return &conversation, nil
}

func (s *SQLiteStore) List(ctx context.Context, userID string, limit int) ([]*models.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, active_skill_id, message_count, created_at, updated_at
		FROM conversations
		WHERE user_id = ?
		ORDER BY updated_at DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*models.Conversation
	for rows.Next() {
		var conversation models.Conversation
		var createdAt, updatedAt int64
		if err := rows.Scan(&conversation.ID, &conversation.UserID, &conversation.Title,
			&conversation.ActiveSkillID, &conversation.MessageCount, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		conversation.CreatedAt = time.Unix(createdAt, 0)
		conversation.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, &conversation)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.ConversationID = conversationID

	parts, err := json.Marshal(msg.Parts)
	if err != nil {
		return fmt.Errorf("encode parts: %w", err)
	}
	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("encode tool calls: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`,
		conversationID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, seq, role, content, parts, tool_calls, tool_call_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, conversationID, seq, string(msg.Role), msg.Content,
		string(parts), string(toolCalls), msg.ToolCallID, msg.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET message_count = message_count + 1, updated_at = ?
		WHERE id = ?`,
		msg.CreatedAt.Unix(), conversationID)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

func (s *SQLiteStore) History(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	// Fetch the newest rows, then reverse to insertion order.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, parts, tool_calls, tool_call_id, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq DESC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var reversed []*models.Message
	for rows.Next() {
		var msg models.Message
		var parts, toolCalls string
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
			&parts, &toolCalls, &msg.ToolCallID, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(parts), &msg.Parts); err != nil {
			return nil, fmt.Errorf("decode parts for %s: %w", msg.ID, err)
		}
		if err := json.Unmarshal([]byte(toolCalls), &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("decode tool calls for %s: %w", msg.ID, err)
		}
		msg.CreatedAt = time.Unix(createdAt, 0)
		reversed = append(reversed, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*models.Message, len(reversed))
	for i, msg := range reversed {
		out[len(reversed)-1-i] = msg
	}
	return out, nil
}
