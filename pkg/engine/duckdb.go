package engine

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"
)

// Engine is the embedded analytical SQL engine. A worker holds exactly
// one Engine for its lifetime; all statements run on a single pinned
// connection so session settings apply to every query.
type Engine struct {
	db *sql.DB
}

// Open starts an in-memory DuckDB instance configured with the given
// number of execution threads.
func Open(threads int) (*Engine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	db.SetMaxOpenConns(1)

	if threads > 0 {
		if _, err := db.Exec(fmt.Sprintf("SET threads TO %d", threads)); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set engine threads: %w", err)
		}
	}

	return &Engine{db: db}, nil
}

// Execute runs one statement, discarding any result set. Plan
// statements are COPY ... TO forms that materialise their own output.
func (e *Engine) Execute(ctx context.Context, query string) error {
	if _, err := e.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("engine execution failed: %w", err)
	}
	return nil
}

// QueryIntScalar runs a query expected to yield a single integer value.
func (e *Engine) QueryIntScalar(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := e.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("engine scalar query failed: %w", err)
	}
	return n, nil
}

// QueryStrings runs a query and collects the first column of every row.
func (e *Engine) QueryStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("engine query failed: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close releases the engine.
func (e *Engine) Close() error {
	return e.db.Close()
}
