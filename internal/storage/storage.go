// Package storage provides SQL persistence for packs, rarity tiers, cards, price
// overrides and calculation history. SQLite is the default; PostgreSQL serves
// hosted deployments.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrNotFound reports a missing row.
var ErrNotFound = errors.New("not found")

// Storage wraps a SQL database for all persistence operations.
type Storage struct {
	db         *sql.DB
	driver     string
	maxHistory int
}

// New opens the database. For SQLite an empty dbPath defaults to
// $TMPDIR/boxoracle/data.db and ":memory:" opens a private in-memory database;
// for PostgreSQL dsn is a lib/pq connection string.
func New(driver, dbPath, dsn string, maxHistory int) (*Storage, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		db, err = openSQLite(dbPath)
	case DriverPostgres:
		db, err = openPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db, driver: driver, maxHistory: maxHistory}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func openSQLite(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "boxoracle", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

func openPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver reports which database the storage talks to.
func (s *Storage) Driver() string {
	return s.driver
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS packs (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			box_price   DOUBLE PRECISION NOT NULL,
			currency    TEXT NOT NULL,
			created_at  BIGINT NOT NULL,
			updated_at  BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rarity_tiers (
			pack_id          TEXT NOT NULL REFERENCES packs(id) ON DELETE CASCADE,
			name             TEXT NOT NULL,
			box_rate_new     DOUBLE PRECISION NOT NULL DEFAULT 0,
			box_rate_reprint DOUBLE PRECISION NOT NULL DEFAULT 0,
			new_count        INTEGER NOT NULL DEFAULT 0,
			reprint_count    INTEGER NOT NULL DEFAULT 0,
			position         INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (pack_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS cards (
			id              TEXT PRIMARY KEY,
			pack_id         TEXT NOT NULL REFERENCES packs(id) ON DELETE CASCADE,
			name            TEXT NOT NULL,
			rarity          TEXT NOT NULL,
			reprint         INTEGER NOT NULL DEFAULT 0,
			reference_price DOUBLE PRECISION
		)`,
		`CREATE TABLE IF NOT EXISTS price_overrides (
			user_id     TEXT NOT NULL,
			card_id     TEXT NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
			price       DOUBLE PRECISION NOT NULL,
			updated_at  BIGINT NOT NULL,
			PRIMARY KEY (user_id, card_id)
		)`,
		`CREATE TABLE IF NOT EXISTS calculations (
			id                 TEXT PRIMARY KEY,
			pack_id            TEXT NOT NULL REFERENCES packs(id) ON DELETE CASCADE,
			user_id            TEXT NOT NULL DEFAULT '',
			method             TEXT NOT NULL,
			expected_value     DOUBLE PRECISION NOT NULL,
			profit_probability DOUBLE PRECISION NOT NULL,
			box_price          DOUBLE PRECISION NOT NULL,
			total_cards        INTEGER NOT NULL,
			prices_entered     INTEGER NOT NULL,
			std_dev            DOUBLE PRECISION NOT NULL,
			breakdown          TEXT NOT NULL DEFAULT '[]',
			created_at         BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cards_pack ON cards(pack_id)`,
		`CREATE INDEX IF NOT EXISTS idx_calculations_pack_created ON calculations(pack_id, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL. Queries never contain
// literal question marks.
func (s *Storage) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *Storage) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Storage) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Storage) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
