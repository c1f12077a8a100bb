// Package database provides database connection and initialization functionality.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver (pgx)
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite" // Pure Go SQLite driver
	sqlite3 "modernc.org/sqlite/lib"
)

// Driver selects the SQL backend
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// DatabaseProfile defines different configuration profiles for SQLite databases
type DatabaseProfile string

const (
	// ProfileLedger - Maximum safety for append-only audit data
	ProfileLedger DatabaseProfile = "ledger"
	// ProfileStandard - Balanced configuration for most databases
	ProfileStandard DatabaseProfile = "standard"
)

// ErrStorage marks infrastructure failures (connectivity, constraint violations)
// so callers can tell them apart from domain errors.
var ErrStorage = errors.New("storage error")

// StorageError wraps an infrastructure error with the failed operation.
// Returns nil when err is nil.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}

// IsStorageError reports whether err is an infrastructure failure
func IsStorageError(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsUniqueViolation reports whether err is a unique or primary key constraint
// failure from either driver. It must be called on the driver error, before
// StorageError flattens it.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "UNIQUE")
		}
	}
	return false
}

// DB wraps the database connection with driver-aware helpers
type DB struct {
	conn    *sql.DB
	driver  Driver
	path    string
	profile DatabaseProfile
	name    string // Database name for logging
}

// Config holds database configuration
type Config struct {
	Driver  Driver
	Path    string // SQLite file path or file: URI
	DSN     string // Postgres connection string
	Profile DatabaseProfile
	Name    string // Friendly name for logging
}

// New opens a database connection and verifies it with a ping
func New(cfg Config) (*DB, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}

	var (
		driverName string
		connStr    string
	)

	switch cfg.Driver {
	case DriverSQLite:
		if !strings.HasPrefix(cfg.Path, "file:") {
			absPath, err := filepath.Abs(cfg.Path)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve database path to absolute: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
			cfg.Path = absPath
		}
		driverName = "sqlite"
		connStr = buildSQLiteConnectionString(cfg.Path, cfg.Profile)
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres database %s requires a DSN", cfg.Name)
		}
		driverName = "pgx"
		connStr = cfg.DSN
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	conn, err := sql.Open(driverName, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Name, err)
	}

	configureConnectionPool(conn, cfg.Driver)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Name, err)
	}

	return &DB{
		conn:    conn,
		driver:  cfg.Driver,
		path:    cfg.Path,
		profile: cfg.Profile,
		name:    cfg.Name,
	}, nil
}

// buildSQLiteConnectionString creates SQLite connection string with profile-specific PRAGMAs
func buildSQLiteConnectionString(path string, profile DatabaseProfile) string {
	connStr := path + "?_pragma=journal_mode(WAL)"

	switch profile {
	case ProfileLedger:
		connStr += "&_pragma=synchronous(FULL)"
		connStr += "&_pragma=auto_vacuum(NONE)"
	default:
		connStr += "&_pragma=synchronous(NORMAL)"
		connStr += "&_pragma=temp_store(MEMORY)"
	}

	// Concurrent writers wait instead of failing immediately
	connStr += "&_pragma=busy_timeout(5000)"
	connStr += "&_pragma=foreign_keys(1)"

	return connStr
}

// configureConnectionPool sets up connection pool for long-term operation
func configureConnectionPool(conn *sql.DB, driver Driver) {
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)
	conn.SetConnMaxIdleTime(15 * time.Minute)

	if driver == DriverSQLite {
		// SQLite serializes writers anyway; fewer connections means less lock churn
		conn.SetMaxOpenConns(8)
		conn.SetMaxIdleConns(2)
	}
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Driver returns the configured backend
func (db *DB) Driver() Driver {
	return db.driver
}

// Name returns the database name for logging
func (db *DB) Name() string {
	return db.name
}

// Path returns the SQLite database file path (empty for postgres)
func (db *DB) Path() string {
	return db.path
}

// Rebind converts '?' placeholders into the driver's bind style.
// Repositories write queries once with '?' and pass them through Rebind.
func (db *DB) Rebind(query string) string {
	if db.driver == DriverPostgres {
		return sqlx.Rebind(sqlx.DOLLAR, query)
	}
	return query
}

// findSchemasDirectory locates internal/database/schemas next to this source file,
// independent of the working directory of tests or binaries.
func findSchemasDirectory() (string, error) {
	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	schemasDir := filepath.Join(filepath.Dir(currentFile), "schemas")
	info, err := os.Stat(schemasDir)
	if err != nil {
		return "", fmt.Errorf("schemas directory not found at %s: %w", schemasDir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("schemas path exists but is not a directory: %s", schemasDir)
	}

	return schemasDir, nil
}

// Migrate applies the schema file registered for this database name.
// The schema only uses CREATE ... IF NOT EXISTS, so it is safe to re-run.
func (db *DB) Migrate() error {
	schemaFiles := map[string]string{
		"scholar": "scholar_schema.sql",
	}

	schemaFile, ok := schemaFiles[db.name]
	if !ok {
		return nil
	}

	schemasDir, err := findSchemasDirectory()
	if err != nil {
		return err
	}

	content, err := os.ReadFile(filepath.Join(schemasDir, schemaFile))
	if err != nil {
		return fmt.Errorf("failed to read schema %s: %w", schemaFile, err)
	}

	return db.ExecSchema(string(content))
}

// ExecSchema executes a multi-statement schema inside a single transaction.
// Statements are split on ';' so both drivers accept them.
func (db *DB) ExecSchema(schema string) error {
	return WithTransaction(context.Background(), db.conn, func(tx *sql.Tx) error {
		for _, stmt := range splitStatements(schema) {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("failed to execute schema statement for %s: %w", db.name, err)
			}
		}
		return nil
	})
}

func splitStatements(schema string) []string {
	var stmts []string
	var b strings.Builder
	for _, line := range strings.Split(schema, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			stmts = append(stmts, strings.TrimSpace(b.String()))
			b.Reset()
		}
	}
	if rest := strings.TrimSpace(b.String()); rest != "" {
		stmts = append(stmts, rest)
	}
	return stmts
}

// WithTransaction executes a function within a database transaction.
// If fn returns an error or panics the transaction is rolled back, otherwise committed.
// Errors returned by fn are passed through unwrapped so domain sentinels survive errors.Is.
func WithTransaction(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return StorageError("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
		} else if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				err = fmt.Errorf("%w (rollback also failed: %v)", err, rollbackErr)
			}
		} else if commitErr := tx.Commit(); commitErr != nil {
			err = StorageError("commit transaction", commitErr)
		}
	}()

	err = fn(tx)
	return err
}

// HealthCheck pings the database and, for SQLite, runs a quick integrity check
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed for %s: %w", db.name, err)
	}

	if db.driver != DriverSQLite {
		return nil
	}

	var result string
	if err := db.conn.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed for %s: %w", db.name, err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed for %s: %s", db.name, result)
	}

	return nil
}
