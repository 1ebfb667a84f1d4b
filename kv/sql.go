package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

// Dialect selects SQL syntax and driver for the [SQL] adapter.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ErrSQLUnavailable wraps database failures.
var ErrSQLUnavailable = errors.New("kv sql unavailable")

const sqlTable = "oidcguard_kv"

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS oidcguard_kv (
  slot_key   TEXT PRIMARY KEY,
  slot_value TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS oidcguard_kv (
  slot_key   TEXT PRIMARY KEY,
  slot_value TEXT NOT NULL,
  updated_at BIGINT NOT NULL
);
`

// SQL persists slots in a single table. On SQLite, Update is serialised in
// process and relies on the database write lock across processes; on Postgres
// it takes a transaction-scoped advisory lock on the key.
type SQL struct {
	db      *sql.DB
	dialect Dialect
	ownsDB  bool

	// SQLite allows one writer; serialising here avoids SQLITE_BUSY churn.
	writeMu sync.Mutex
}

// OpenSQL opens a database for the dialect, pings it, and ensures the schema.
// An empty dsn selects a local default.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQL, error) {
	var drvName string
	switch dialect {
	case DialectSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:oidcguard.db?mode=rwc&_txlock=immediate&_pragma=busy_timeout(5000)"
		}
	case DialectPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/oidcguard?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported sql dialect: %s", dialect)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSQLUnavailable, err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}

	store, err := NewSQL(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// NewSQL wraps an open handle and ensures the schema exists. The caller keeps
// ownership of db.
func NewSQL(ctx context.Context, db *sql.DB, dialect Dialect) (*SQL, error) {
	var schema string
	switch dialect {
	case DialectSQLite:
		schema = schemaSQLite
	case DialectPostgres:
		schema = schemaPostgres
	default:
		return nil, fmt.Errorf("unsupported sql dialect: %s", dialect)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSQLUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("%w: ensure schema: %v", ErrSQLUnavailable, err)
	}

	return &SQL{db: db, dialect: dialect}, nil
}

// Close releases the handle when it was opened by [OpenSQL].
func (s *SQL) Close() error {
	if s == nil || !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQL) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
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

func (s *SQL) upsertQuery() string {
	return s.rebind(`INSERT INTO ` + sqlTable + ` (slot_key, slot_value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (slot_key) DO UPDATE SET slot_value = excluded.slot_value, updated_at = excluded.updated_at`)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQL) read(ctx context.Context, q queryer, key string, forUpdate bool) (string, bool, error) {
	query := `SELECT slot_value FROM ` + sqlTable + ` WHERE slot_key = ?`
	if forUpdate && s.dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}

	var value string
	err := q.QueryRowContext(ctx, s.rebind(query), key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *SQL) Read(ctx context.Context, key string) (string, bool, error) {
	value, ok, err := s.read(ctx, s.db, key, false)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrSQLUnavailable, err)
	}
	return value, ok, nil
}

func (s *SQL) Write(ctx context.Context, key, value string) error {
	if s.dialect == DialectSQLite {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}
	if _, err := s.db.ExecContext(ctx, s.upsertQuery(), key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("%w: %v", ErrSQLUnavailable, err)
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, key string) error {
	if s.dialect == DialectSQLite {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM `+sqlTable+` WHERE slot_key = ?`), key); err != nil {
		return fmt.Errorf("%w: %v", ErrSQLUnavailable, err)
	}
	return nil
}

// Update runs the cycle inside one transaction. fn runs at most once.
func (s *SQL) Update(ctx context.Context, key string, fn UpdateFunc) (err error) {
	if s.dialect == DialectSQLite {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrSQLUnavailable, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.dialect == DialectPostgres {
		// Row locks cannot cover a key that does not exist yet.
		if _, lockErr := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); lockErr != nil {
			return fmt.Errorf("%w: lock: %v", ErrSQLUnavailable, lockErr)
		}
	}

	current, ok, readErr := s.read(ctx, tx, key, true)
	if readErr != nil {
		return fmt.Errorf("%w: %v", ErrSQLUnavailable, readErr)
	}

	next, err := fn(current, ok)
	if err != nil {
		return err
	}

	if _, execErr := tx.ExecContext(ctx, s.upsertQuery(), key, next, time.Now().UnixMilli()); execErr != nil {
		err = fmt.Errorf("%w: %v", ErrSQLUnavailable, execErr)
		return err
	}
	if commitErr := tx.Commit(); commitErr != nil {
		err = fmt.Errorf("%w: commit: %v", ErrSQLUnavailable, commitErr)
		return err
	}
	return nil
}
