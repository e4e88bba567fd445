package store

import (
	"fmt"
)

func (s *Store) migrate() error {
	return s.migrateV1()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		overview TEXT NOT NULL DEFAULT '',
		purpose TEXT NOT NULL DEFAULT '',
		scope TEXT NOT NULL DEFAULT '',
		target_users TEXT NOT NULL DEFAULT '',
		nfr_summary TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_projects_created ON projects(created_at);

	CREATE TABLE IF NOT EXISTS intake_sessions (
		project_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		questions_asked INTEGER NOT NULL DEFAULT 0,
		history TEXT NOT NULL DEFAULT '[]',
		pending_intent_prompt TEXT NOT NULL DEFAULT '',
		pending_intent_options TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON intake_sessions(updated_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migration v1 failed: %w", err)
	}
	return nil
}
