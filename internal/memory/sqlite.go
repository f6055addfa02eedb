package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists conversation summaries in SQLite and serves recall
// queries from them.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a summary store on an already-open database
// handle, initializing its schema if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS conversation_summaries (
		conversation_id TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_summaries_user ON conversation_summaries (user_id, created_at DESC);
	`); err != nil {
		return nil, fmt.Errorf("initialize memory schema: %w", err)
	}
	return s, nil
}

// Save inserts or replaces a conversation's summary.
func (s *SQLiteStore) Save(ctx context.Context, userID, conversationID, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_summaries (conversation_id, user_id, content, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (conversation_id) DO UPDATE SET
			content = excluded.content,
			created_at = excluded.created_at`,
		conversationID, userID, content, time.Now().Unix())
	return err
}

func (s *SQLiteStore) Recent(ctx context.Context, userID string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, content, created_at
		FROM conversation_summaries
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var summary Summary
		var createdAt int64
		if err := rows.Scan(&summary.ConversationID, &summary.Content, &createdAt); err != nil {
			return nil, err
		}
		summary.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, summary)
	}
	return out, rows.Err()
}
