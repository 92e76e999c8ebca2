package journal

import (
	"database/sql"
	"fmt"
)

// Migration is one forward-only schema step.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

var migrations = []Migration{
	{
		Version:     "001",
		Description: "room_events",
		SQL: `
			CREATE TABLE IF NOT EXISTS room_events (
				id TEXT PRIMARY KEY,
				room_id TEXT NOT NULL,
				event TEXT NOT NULL,
				user_id TEXT NOT NULL DEFAULT '',
				detail TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_room_events_room_time ON room_events(room_id, created_at);
		`,
	},
	{
		Version:     "002",
		Description: "room_events_event_index",
		SQL:         `CREATE INDEX IF NOT EXISTS idx_room_events_event ON room_events(event);`,
	},
}

// applyMigrations brings db up to the latest schema, recording each applied
// version in schema_migrations.
func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.Version, err)
		}
	}
	return nil
}

func appliedVersions(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	versions := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions[v] = true
	}
	return versions, rows.Err()
}

func applyMigration(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, description) VALUES (?, ?)", m.Version, m.Description); err != nil {
		return err
	}
	return tx.Commit()
}

// CurrentVersion returns the newest applied migration version, or "" for an
// empty database.
func CurrentVersion(db *sql.DB) (string, error) {
	var version sql.NullString
	err := db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return "", err
	}
	return version.String, nil
}
