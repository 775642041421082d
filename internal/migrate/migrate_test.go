package migrate_test

import (
	"testing"

	"chronoline/internal/db"
	"chronoline/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	// Running twice must not re-apply anything.
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var version int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version < 1 {
		t.Fatalf("version not recorded: %d", version)
	}
	if _, err := conn.Exec(`SELECT id FROM imputations LIMIT 1`); err != nil {
		t.Fatalf("schema missing: %v", err)
	}
}
