package database

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

	"slotbook/internal/config"
	"slotbook/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// queries runs statements against either the pool or a transaction.
// Statements are written with ? placeholders and rebound per dialect.
type queries struct {
	q      querier
	driver string
}

func (q queries) rebind(query string) string {
	if q.driver != config.DriverPostgres {
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

// forUpdate appends a row lock on Postgres. SQLite serializes writers on its
// single connection, so the plain select is enough there.
func (q queries) forUpdate(query string) string {
	if q.driver == config.DriverPostgres {
		return query + " FOR UPDATE"
	}
	return query
}

func (q queries) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return q.q.ExecContext(ctx, q.rebind(query), args...)
}

func (q queries) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return q.q.QueryContext(ctx, q.rebind(query), args...)
}

func (q queries) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return q.q.QueryRowContext(ctx, q.rebind(query), args...)
}

type DB struct {
	*sql.DB
	queries
	path   string
	logger *zerolog.Logger
}

// NewDB opens the configured database and bootstraps the schema.
func NewDB(cfg config.DatabaseConfig, logger *zerolog.Logger) (*DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = config.DriverSQLite
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	switch driver {
	case config.DriverSQLite:
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		sqlDB, err = sql.Open("sqlite3", sqliteDSN(cfg.Path))
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		// one connection: SQLite allows a single writer and :memory: is per connection
		sqlDB.SetMaxOpenConns(1)
	case config.DriverPostgres:
		sqlDB, err = sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db := newDB(sqlDB, driver, cfg.Path, logger)

	if err := db.PingContext(context.Background()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.createTables(context.Background()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	db.logger.Info().Str("driver", driver).Str("path", cfg.Path).Msg("Database initialized")
	return db, nil
}

func newDB(sqlDB *sql.DB, driver, path string, logger *zerolog.Logger) *DB {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &DB{
		DB:      sqlDB,
		queries: queries{q: sqlDB, driver: driver},
		path:    path,
		logger:  logger,
	}
}

func sqliteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?_busy_timeout=5000&_foreign_keys=on"
	}
	return "file:" + path + "?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL"
}

func (db *DB) Dialect() string { return db.driver }

func (db *DB) Path() string { return db.path }

// InTx runs fn in a transaction, committing when fn returns nil.
func (db *DB) InTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(&Tx{queries: queries{q: sqlTx, driver: db.driver}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Tx is the transactional view of the store.
type Tx struct {
	queries
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFoundf(format, args...)
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
