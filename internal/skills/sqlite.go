package skills

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/relay/pkg/models"
	_ "modernc.org/sqlite"
)

// SQLiteRegistry implements Registry on a SQLite database. Trigger rules
// are stored as a JSON column; everything else is plain relational.
type SQLiteRegistry struct {
	db *sql.DB
}

// NewSQLiteRegistry creates a registry using an already-open database
// handle, initializing its schema if needed. The handle is shared with
// other stores and not closed here.
func NewSQLiteRegistry(db *sql.DB) (*SQLiteRegistry, error) {
	r := &SQLiteRegistry{db: db}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize skills schema: %w", err)
	}
	return r, nil
}

func (r *SQLiteRegistry) initSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS skills (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		content     TEXT NOT NULL,
		triggers    TEXT NOT NULL DEFAULT '[]',
		position    INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS skill_assignments (
		user_id    TEXT NOT NULL,
		skill_id   TEXT NOT NULL,
		is_default INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, skill_id)
	);
	CREATE TABLE IF NOT EXISTS active_skills (
		conversation_id   TEXT PRIMARY KEY,
		skill_id          TEXT NOT NULL,
		trigger_kind      TEXT NOT NULL,
		previous_skill_id TEXT NOT NULL DEFAULT '',
		activated_at      INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS skill_usage (
		skill_id     TEXT PRIMARY KEY,
		requests     INTEGER NOT NULL DEFAULT 0,
		successes    INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		tool_calls   INTEGER NOT NULL DEFAULT 0,
		last_used_at INTEGER NOT NULL DEFAULT 0
	);
	`)
	return err
}

// SaveSkill inserts or replaces a skill definition.
func (r *SQLiteRegistry) SaveSkill(ctx context.Context, skill *Skill) error {
	triggers, err := json.Marshal(skill.Triggers)
	if err != nil {
		return fmt.Errorf("encode triggers: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO skills (id, name, description, content, triggers, position)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			content = excluded.content,
			triggers = excluded.triggers,
			position = excluded.position`,
		skill.ID, skill.Name, skill.Description, skill.Content, string(triggers), skill.Position)
	return err
}

// Assign attaches a skill to a user; marking it default clears any
// previous default for that user.
func (r *SQLiteRegistry) Assign(ctx context.Context, userID, skillID string, isDefault bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if isDefault {
		if _, err := tx.ExecContext(ctx,
			`UPDATE skill_assignments SET is_default = 0 WHERE user_id = ?`, userID); err != nil {
			return err
		}
	}
	flag := 0
	if isDefault {
		flag = 1
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO skill_assignments (user_id, skill_id, is_default)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, skill_id) DO UPDATE SET is_default = excluded.is_default`,
		userID, skillID, flag); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLiteRegistry) Get(ctx context.Context, skillID string) (*Skill, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, description, content, triggers, position
		FROM skills WHERE id = ?`, skillID)
	return scanSkill(row)
}

func (r *SQLiteRegistry) Default(ctx context.Context, userID string) (*Skill, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT s.id, s.name, s.description, s.content, s.triggers, s.position
		FROM skills s
		JOIN skill_assignments a ON a.skill_id = s.id
		WHERE a.user_id = ? AND a.is_default = 1
		LIMIT 1`, userID)
	skill, err := scanSkill(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return skill, err
}

func (r *SQLiteRegistry) Assigned(ctx context.Context, userID string) ([]*Skill, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.description, s.content, s.triggers, s.position
		FROM skills s
		JOIN skill_assignments a ON a.skill_id = s.id
		WHERE a.user_id = ?
		ORDER BY s.position, s.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Skill
	for rows.Next() {
		skill, err := scanSkill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, skill)
	}
	return out, rows.Err()
}

func (r *SQLiteRegistry) Active(ctx context.Context, conversationID string) (*models.ActiveSkill, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT a.skill_id, s.name, s.content, a.trigger_kind, a.previous_skill_id, a.activated_at
		FROM active_skills a
		JOIN skills s ON s.id = a.skill_id
		WHERE a.conversation_id = ?`, conversationID)

	var active models.ActiveSkill
	var activatedAt int64
	err := row.Scan(&active.SkillID, &active.Name, &active.Content,
		&active.Trigger, &active.PreviousSkillID, &activatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	active.ActivatedAt = time.Unix(activatedAt, 0)
	return &active, nil
}

func (r *SQLiteRegistry) Activate(ctx context.Context, conversationID string, skill *Skill, trigger models.TriggerKind) (*models.ActiveSkill, error) {
	previous := ""
	if current, err := r.Active(ctx, conversationID); err != nil {
		return nil, err
	} else if current != nil {
		previous = current.SkillID
	}

	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO active_skills (conversation_id, skill_id, trigger_kind, previous_skill_id, activated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id) DO UPDATE SET
			skill_id = excluded.skill_id,
			trigger_kind = excluded.trigger_kind,
			previous_skill_id = excluded.previous_skill_id,
			activated_at = excluded.activated_at`,
		conversationID, skill.ID, string(trigger), previous, now.Unix())
	if err != nil {
		return nil, err
	}

	return &models.ActiveSkill{
		SkillID:         skill.ID,
		Name:            skill.Name,
		Content:         skill.Content,
		Trigger:         trigger,
		PreviousSkillID: previous,
		ActivatedAt:     now,
	}, nil
}

func (r *SQLiteRegistry) Deactivate(ctx context.Context, conversationID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM active_skills WHERE conversation_id = ?`, conversationID)
	return err
}

func (r *SQLiteRegistry) RecordUsage(ctx context.Context, skillID string, usage Usage) error {
	success := 0
	if usage.Success {
		success = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO skill_usage (skill_id, requests, successes, total_tokens, tool_calls, last_used_at)
		VALUES (?, 1, ?, ?, ?, ?)
		ON CONFLICT (skill_id) DO UPDATE SET
			requests = requests + 1,
			successes = successes + excluded.successes,
			total_tokens = total_tokens + excluded.total_tokens,
			tool_calls = tool_calls + excluded.tool_calls,
			last_used_at = excluded.last_used_at`,
		skillID, success, usage.Tokens, usage.ToolCalls, time.Now().Unix())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSkill(row rowScanner) (*Skill, error) {
	var skill Skill
	var triggers string
	err := row.Scan(&skill.ID, &skill.Name, &skill.Description, &skill.Content, &triggers, &skill.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(triggers), &skill.Triggers); err != nil {
		return nil, fmt.Errorf("decode triggers for %s: %w", skill.ID, err)
	}
	return &skill, nil
}
