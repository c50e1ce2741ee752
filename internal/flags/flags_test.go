package flags

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/showgayaki/camenashi-kun/internal/db"
)

func newSQLStore(t *testing.T) (*SQLStore, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "flags.db")
	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewSQLStore(database), dbPath
}

func TestSQLStore_GetUnsetIsEmpty(t *testing.T) {
	s, _ := newSQLStore(t)

	v, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if v != "" {
		t.Errorf("Get() = %q, want empty", v)
	}
}

func TestSQLStore_SetOverwrites(t *testing.T) {
	s, _ := newSQLStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, PingErrorSent, "true"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set(ctx, PingErrorSent, "false"); err != nil {
		t.Fatalf("second Set() error = %v", err)
	}

	v, _ := s.Get(ctx, PingErrorSent)
	if v != "false" {
		t.Errorf("Get() = %q, want false", v)
	}

	all, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("All() = %v, want one key", all)
	}
}

func TestSQLStore_SurvivesReopen(t *testing.T) {
	s, dbPath := newSQLStore(t)
	ctx := context.Background()

	if err := SetBool(ctx, s, QuotaLimitSent, true); err != nil {
		t.Fatalf("SetBool() error = %v", err)
	}
	s.db.Close()

	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer database.Close()

	got, err := GetBool(ctx, NewSQLStore(database), QuotaLimitSent)
	if err != nil {
		t.Fatalf("GetBool() error = %v", err)
	}
	if !got {
		t.Error("flag should persist across restarts")
	}
}

func TestGetBool(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	tests := []struct {
		stored string
		want   bool
	}{
		{"", false},
		{"true", true},
		{"True", true},
		{"1", true},
		{"false", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		m.Set(ctx, "k", tt.stored)
		got, err := GetBool(ctx, m, "k")
		if err != nil {
			t.Fatalf("GetBool(%q) error = %v", tt.stored, err)
		}
		if got != tt.want {
			t.Errorf("GetBool(%q) = %v, want %v", tt.stored, got, tt.want)
		}
	}
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	SetBool(ctx, m, QuotaFallbackActive, true)
	m.Set(ctx, "unrelated", "x")

	snap, err := Snapshot(ctx, m)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(snap) != len(Known) {
		t.Errorf("Snapshot() has %d keys, want %d", len(snap), len(Known))
	}
	if !snap[QuotaFallbackActive] || snap[PingErrorSent] {
		t.Errorf("unexpected snapshot: %v", snap)
	}
}
