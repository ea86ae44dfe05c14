package migrations

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"
)

func TestRunMigrations_Idempotent(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "recall.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	for i := 0; i < 2; i++ {
		if err := RunMigrations(db, zerolog.Nop()); err != nil {
			t.Fatalf("RunMigrations pass %d: %v", i+1, err)
		}
	}

	version, dirty, err := Version(db)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if dirty {
		t.Fatalf("schema left dirty")
	}
	if version != 3 {
		t.Fatalf("version = %d, want 3", version)
	}

	for _, table := range []string{"memories", "message_memory_links", "reactions"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}
