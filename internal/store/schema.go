package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Tables are created with raw DDL rather than generated migrations: the store
// only needs CREATE IF NOT EXISTS, and every query goes through ent's
// dialect builder. Timestamps are stored as Unix milliseconds.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS skills (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		training_context TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		skill_id TEXT NOT NULL,
		current_belt TEXT NOT NULL,
		assessment_available INTEGER NOT NULL DEFAULT 0,
		concepts TEXT NOT NULL DEFAULT '{}',
		reinforcement_queue TEXT NOT NULL DEFAULT '[]',
		version INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (user_id, skill_id)
	)`,
	`CREATE TABLE IF NOT EXISTS belt_history (
		id TEXT PRIMARY KEY,
		enrollment_id TEXT NOT NULL,
		from_belt TEXT,
		to_belt TEXT NOT NULL,
		achieved_at INTEGER NOT NULL,
		source_session_id TEXT,
		reason TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS belt_history_enrollment ON belt_history (enrollment_id)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		enrollment_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		correctness TEXT,
		quality TEXT,
		notes TEXT NOT NULL DEFAULT '',
		problem TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		completed_at INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS sessions_enrollment ON sessions (enrollment_id, status)`,
	`CREATE TABLE IF NOT EXISTS session_observations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		type TEXT NOT NULL,
		concept TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS session_mastery_updates (
		session_id TEXT NOT NULL,
		concept TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (session_id, concept)
	)`,
	`CREATE TABLE IF NOT EXISTS session_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		dedup_key TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS activities_user ON activities (user_id, type, dedup_key)`,
	`CREATE TABLE IF NOT EXISTS user_stats (
		user_id TEXT PRIMARY KEY,
		current_streak INTEGER NOT NULL DEFAULT 0,
		longest_streak INTEGER NOT NULL DEFAULT 0,
		total_sessions INTEGER NOT NULL DEFAULT 0,
		last_session INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS llm_request_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		purpose TEXT NOT NULL,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		success INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		request_body TEXT NOT NULL DEFAULT '',
		response_body TEXT NOT NULL DEFAULT ''
	)`,
}

// migrate creates every table and index that does not exist yet.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}
