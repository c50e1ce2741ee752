package db

import (
	"path/filepath"
	"testing"
)

func tableExists(t *testing.T, d *DB, table string) bool {
	t.Helper()
	var name string
	err := d.Conn().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
	return err == nil
}

func TestNew_CreatesNestedDirAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "camenashi.db")

	d, err := New(path, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer d.Close()

	for _, table := range []string{"flags", "_migrations"} {
		if !tableExists(t, d, table) {
			t.Errorf("table %s missing", table)
		}
	}
	if d.Driver() != DriverSQLite {
		t.Errorf("Driver() = %q, want sqlite", d.Driver())
	}
}

func TestNew_UsesWAL(t *testing.T) {
	d, err := New(filepath.Join(t.TempDir(), "camenashi.db"), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer d.Close()

	var mode string
	if err := d.Conn().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %s, want wal", mode)
	}
}

func TestNew_ReopenSkipsAppliedMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camenashi.db")

	first, err := New(path, nil)
	if err != nil {
		t.Fatalf("first New() error = %v", err)
	}
	if _, err := first.Conn().Exec("INSERT INTO flags (key, value, updated_at) VALUES ('k', 'true', 'now')"); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := New(path, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer second.Close()

	var count int
	if err := second.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count); err != nil {
		t.Fatal(err)
	}
	names, err := migrationNames()
	if err != nil {
		t.Fatal(err)
	}
	if count != len(names) {
		t.Errorf("applied = %d, want %d", count, len(names))
	}

	var value string
	if err := second.Conn().QueryRow("SELECT value FROM flags WHERE key = 'k'").Scan(&value); err != nil || value != "true" {
		t.Errorf("flag row lost across reopen: value=%q err=%v", value, err)
	}
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "x", nil); err == nil {
		t.Fatal("expected an error for an unknown driver")
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		driver string
		in     string
		want   string
	}{
		{DriverPostgres, "UPDATE t SET a = ? WHERE b = ?", "UPDATE t SET a = $1 WHERE b = $2"},
		{DriverPostgres, "SELECT 1", "SELECT 1"},
		{DriverSQLite, "SELECT ?", "SELECT ?"},
	}
	for _, tt := range tests {
		d := &DB{driver: tt.driver}
		if got := d.Rebind(tt.in); got != tt.want {
			t.Errorf("%s Rebind(%q) = %q, want %q", tt.driver, tt.in, got, tt.want)
		}
	}
}
