// Package db opens the database behind the flag store and keeps its
// schema current. SQLite is the default; postgres is accepted so several
// agents can share one flag table.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/samber/lo"
	_ "modernc.org/sqlite"

	"github.com/showgayaki/camenashi-kun/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const connectTimeout = 10 * time.Second

// sqlitePragmas trade a little durability for not blocking the loop on
// fsync; the flags are rewritten on every alert anyway.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

type DB struct {
	conn   *sql.DB
	driver string
	logger *slog.Logger
}

// New opens the SQLite file at dbPath, creating its directory.
func New(dbPath string, logger *slog.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	return Open(DriverSQLite, dbPath, logger)
}

// Open connects with driver and brings the schema up to date.
func Open(driver, dsn string, logger *slog.Logger) (*DB, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	d := &DB{conn: conn, driver: driver, logger: logging.WithComponent(logging.OrDiscard(logger), "db")}
	if err := d.init(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) init(ctx context.Context) error {
	if d.driver == DriverSQLite {
		// one writer; the flag store is tiny and rarely touched
		d.conn.SetMaxOpenConns(1)
		d.conn.SetMaxIdleConns(1)
	}
	if err := d.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if d.driver == DriverSQLite {
		for _, pragma := range sqlitePragmas {
			if _, err := d.conn.ExecContext(ctx, pragma); err != nil {
				return fmt.Errorf("failed to execute %s: %w", pragma, err)
			}
		}
	}
	if err := d.migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) Conn() *sql.DB {
	return d.conn
}

func (d *DB) Driver() string {
	return d.driver
}

// Rebind rewrites ? placeholders to $N for postgres.
func (d *DB) Rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// migrationNames lists the embedded migrations in apply order.
func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}
	names := lo.FilterMap(entries, func(e fs.DirEntry, _ int) (string, bool) {
		return e.Name(), !e.IsDir() && strings.HasSuffix(e.Name(), ".sql")
	})
	sort.Strings(names)
	return names, nil
}

func (d *DB) migrate(ctx context.Context) error {
	if _, err := d.conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _migrations (name TEXT PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := d.appliedMigrations(ctx)
	if err != nil {
		return err
	}
	names, err := migrationNames()
	if err != nil {
		return err
	}

	for _, name := range lo.Reject(names, func(n string, _ int) bool { return applied[n] }) {
		if err := d.apply(ctx, name); err != nil {
			return err
		}
		d.logger.Info("applied migration", "name", name)
	}
	return nil
}

// apply runs one migration and records it in the same transaction, so a
// failed migration is retried on the next start.
func (d *DB) apply(ctx context.Context, name string) (err error) {
	content, err := migrationsFS.ReadFile("migrations/" + name)
	if err != nil {
		return fmt.Errorf("failed to read migration %s: %w", name, err)
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %s: %w", name, err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	if _, err = tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", name, err)
	}
	if _, err = tx.ExecContext(ctx, d.Rebind("INSERT INTO _migrations (name, applied_at) VALUES (?, ?)"),
		name, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", name, err)
	}
	return tx.Commit()
}

func (d *DB) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := d.conn.QueryContext(ctx, "SELECT name FROM _migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
