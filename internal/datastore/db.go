package datastore

import (
	"database/sql"
	"errors"
	"fmt"

	// pq is the PostgreSQL driver
	_ "github.com/lib/pq"
)

// DB is the shared database connection pool. It is set once by InitDB at
// application startup.
var DB *sql.DB

// ErrNotFound is returned (wrapped) by lookups whose target row does not
// exist, so handlers can map it to 404 with errors.Is.
var ErrNotFound = errors.New("not found")

// InitDB opens the connection pool and verifies it with a ping.
func InitDB(dataSourceName string) error {
	var err error
	DB, err = sql.Open("postgres", dataSourceName)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err = DB.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// EnsureSchema creates the tables the platform needs if they do not exist.
// Step results and ground-truth carts are JSONB documents on the step row.
func EnsureSchema() error {
	if DB == nil {
		return errors.New("database connection not initialized")
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS scenarios (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			system_prompt TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scenario_steps (
			id TEXT PRIMARY KEY,
			scenario_id TEXT NOT NULL REFERENCES scenarios(id) ON DELETE CASCADE,
			step_number INTEGER NOT NULL,
			voice_file_path TEXT,
			voice_text TEXT,
			ground_truth_cart JSONB NOT NULL DEFAULT '[]',
			model_results JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (scenario_id, step_number)
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			units_relation TEXT,
			main_unit_description TEXT,
			secondary_unit_description TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS app_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := DB.Exec(stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
