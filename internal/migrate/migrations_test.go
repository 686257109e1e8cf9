package migrate_test

import (
	"testing"

	"prosync/internal/db"
	"prosync/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	st, err := migrate.GetStatus(conn)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Pending || st.Dirty || st.CurrentVersion != st.LatestVersion || st.LatestVersion == 0 {
		t.Fatalf("unexpected status %+v", st)
	}
	for _, table := range []string{"kv", "users", "projects", "project_assignees", "tasks", "comments", "agenda_items"} {
		var name string
		if err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}
