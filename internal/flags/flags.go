// Package flags persists the small set of idempotency flags that keep the
// agent from re-sending an alert across restarts.
package flags

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/showgayaki/camenashi-kun/internal/db"
)

const (
	// PingErrorSent is true once the "device unreachable" alert was delivered.
	PingErrorSent = "ping_error_already_sent"
	// QuotaLimitSent is true once the "quota limit reached" alert was delivered.
	QuotaLimitSent = "quota_limit_already_sent"
	// QuotaFallbackActive is true while the router sends through the fallback channel.
	QuotaFallbackActive = "quota_fallback_active"
)

// Known lists every flag the agent reads, in display order.
var Known = []string{PingErrorSent, QuotaLimitSent, QuotaFallbackActive}

// Store is a durable key/value store.
type Store interface {
	// Get returns the stored value, or "" when the key was never set.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// All returns every stored key and value.
	All(ctx context.Context) (map[string]string, error)
}

// GetBool reads key as a boolean. Unset or unparsable values read as false.
func GetBool(ctx context.Context, s Store, key string) (bool, error) {
	v, err := s.Get(ctx, key)
	if err != nil || v == "" {
		return false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, nil
	}
	return b, nil
}

func SetBool(ctx context.Context, s Store, key string, value bool) error {
	return s.Set(ctx, key, strconv.FormatBool(value))
}

type SQLStore struct {
	db  *db.DB
	now func() time.Time
}

func NewSQLStore(database *db.DB) *SQLStore {
	return &SQLStore{db: database, now: time.Now}
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.Conn().QueryRowContext(ctx, s.db.Rebind("SELECT value FROM flags WHERE key = ?"), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.Conn().ExecContext(ctx, s.db.Rebind(`
		INSERT INTO flags (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`), key, value, s.now().UTC().Format(time.RFC3339))
	return err
}

func (s *SQLStore) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.Conn().QueryContext(ctx, "SELECT key, value FROM flags")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// MemoryStore is an in-process Store for tests and dry runs.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) All(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

// Snapshot returns every known flag as a boolean, for display.
func Snapshot(ctx context.Context, s Store) (map[string]bool, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(Known))
	for _, k := range Known {
		b, _ := strconv.ParseBool(all[k])
		out[k] = b
	}
	return out, nil
}
