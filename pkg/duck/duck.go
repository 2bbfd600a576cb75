// Package duck wraps an embedded DuckDB database. The table store reads TSV
// files through it, and the vector index and run tracker persist to it.
package duck

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
)

type DB struct {
	log  *slog.Logger
	db   *sql.DB
	path string
}

// Open opens a DuckDB database. An empty path opens an in-memory database;
// otherwise the parent directory is created if needed.
func Open(ctx context.Context, log *slog.Logger, path string) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}
	dsn := ""
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for database: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = abs
		path = abs
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Debug("duck: database opened", "path", path)

	return &DB{log: log, db: db, path: path}, nil
}

func (d *DB) Path() string {
	return d.path
}

func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retryWithBackoff(ctx, d.log, "exec", func() error {
		var err error
		res, err = d.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := retryWithBackoff(ctx, d.log, "query", func() error {
		var err error
		rows, err = d.db.QueryContext(ctx, query, args...)
		return err
	})
	return rows, err
}

func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, query, args...)
}

func (d *DB) Close() error {
	return d.db.Close()
}

// QuoteLiteral renders s as a SQL string literal. Table functions such as
// read_csv take their path as a literal rather than a bind parameter.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// QuoteIdent renders s as a quoted SQL identifier.
func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
