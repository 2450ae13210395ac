package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported drivers.
const (
	SQLite   = "sqlite3"
	MySQL    = "mysql"
	Postgres = "postgres"
)

// DB owns the connection pool. Its embedded Store runs statements outside
// a transaction; WithTx hands out a transaction-bound Store.
type DB struct {
	*Store
	conn *sqlx.DB
}

// Store runs queries against either the pool or a transaction.
type Store struct {
	q       sqlx.ExtContext
	dialect string
}

// New opens a SQLite database at dbPath, creating its directory.
func New(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}
	return Open(SQLite, SQLiteDSN(dbPath))
}

// SQLiteDSN builds the connection string used for SQLite files.
func SQLiteDSN(path string) string {
	return path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
}

// Open connects with the given driver and applies the schema.
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case SQLite, MySQL, Postgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == SQLite {
		// one writer at a time; readers share the WAL
		conn.SetMaxOpenConns(4)
	}

	db := &DB{Store: &Store{q: conn, dialect: driver}, conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Dialect returns the driver name.
func (db *DB) Dialect() string {
	return db.Store.dialect
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) migrate() error {
	for _, stmt := range schema(db.Store.dialect) {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
	}
	// Indexes are best effort: MySQL has no IF NOT EXISTS for them.
	for _, stmt := range indexes(db.Store.dialect) {
		_, _ = db.conn.Exec(stmt)
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// WithTx runs fn in a transaction, committing when it returns nil. Transient
// driver failures retry the whole transaction with backoff; every other
// error is returned as is.
func (db *DB) WithTx(ctx context.Context, fn func(s *Store) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 25 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 10 * time.Second

	return backoff.Retry(func() error {
		err := db.runTx(ctx, fn)
		if err != nil && isRetryableError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

func (db *DB) runTx(ctx context.Context, fn func(s *Store) error) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(&Store{q: tx, dialect: db.Store.dialect}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, s := range []string{
		"database is locked",
		"sqlite_busy",
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		"deadlock found",
		"could not serialize access",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

func (s *Store) rebind(query string) string {
	return s.q.Rebind(query)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.q.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// insertID runs an INSERT and returns the generated id.
func (s *Store) insertID(ctx context.Context, query string, args ...any) (int64, error) {
	if s.dialect == Postgres {
		var id int64
		err := sqlx.GetContext(ctx, s.q, &id, s.rebind(query+" RETURNING id"), args...)
		return id, err
	}
	res, err := s.q.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) forUpdate() string {
	if s.dialect == SQLite {
		return ""
	}
	return " FOR UPDATE"
}
