package sqlbackend

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// migration is one versioned step of schema evolution. SUPPLEMENTED
// FEATURES Open Question (a) resolves the source's two parallel job-store
// shapes by treating the richer schema (cancelled/instanceId/checkpoint/
// progress) as canonical outright, so today there is exactly one migration;
// the register exists so a future schema change has a place to land without
// re-running every prior CREATE TABLE against an already-migrated database.
type migration struct {
	version int
	sqlite  string
	mysql   string
}

var migrations = []migration{
	{version: 1, sqlite: sqliteSchema, mysql: mysqlSchema},
}

const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY
);
`

// migrate applies every migration newer than the database's current
// recorded version, in order, recording each as it completes.
func (s *Store) migrate(ctx context.Context) error {
	if err := s.execStatements(ctx, schemaVersionTable); err != nil {
		return err
	}

	current, err := s.currentSchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		stmt := m.sqlite
		if s.dialect == dialectMySQL {
			stmt = m.mysql
		}
		if err := s.execStatements(ctx, stmt); err != nil {
			return fmt.Errorf("sqlbackend: migration %d: %w", m.version, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("sqlbackend: recording migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *Store) currentSchemaVersion(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	var version int
	if err := row.Scan(&version); err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("sqlbackend: reading schema version: %w", err)
	}
	return version, nil
}

// execStatements runs each ";"-separated statement in schema individually:
// go-sql-driver/mysql only executes one statement per query unless the DSN
// carries multiStatements=true, so statements are split to work regardless.
func (s *Store) execStatements(ctx context.Context, schema string) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlbackend: migrate: %w (statement: %s)", err, stmt)
		}
	}
	return nil
}
