// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sql_agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DefaultQueryTimeout bounds a single statement execution.
const DefaultQueryTimeout = 30 * time.Second

const (
	DialectPostgres = "postgresql"
	DialectSQLite   = "sqlite"
)

// ErrNotReadOnly is returned for statements other than SELECT or WITH.
var ErrNotReadOnly = errors.New("only read-only SELECT statements may be executed")

// ExecutionError carries the statement that failed alongside the driver error.
type ExecutionError struct {
	SQL string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute %q: %v", e.SQL, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ResultSet is a fully materialized query result.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// Render formats the rows as a list of tuples, the shape the answer
// prompt shows the model.
func (r ResultSet) Render() string {
	if len(r.Rows) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteString("[")
	for i, row := range r.Rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, v := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(renderValue(v))
		}
		if len(row) == 1 {
			b.WriteString(",")
		}
		b.WriteString(")")
	}
	b.WriteString("]")
	return b.String()
}

func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case []byte:
		return "'" + string(t) + "'"
	case string:
		return "'" + t + "'"
	case time.Time:
		return "'" + t.Format(time.RFC3339) + "'"
	default:
		return fmt.Sprint(t)
	}
}

// QueryExecutor runs read-only SQL and describes the schema it runs against.
type QueryExecutor interface {
	Query(ctx context.Context, statement string) (ResultSet, error)
	TableInfo(ctx context.Context) (string, error)
	Dialect() string
}

// ExecutorConfig configures a DBExecutor.
type ExecutorConfig struct {
	// Dialect names the SQL flavor in the generation prompt.
	Dialect string `yaml:"dialect" toml:"dialect"`

	// Table is the table exposed to the model.
	Table string `yaml:"table" toml:"table"`

	// Timeout bounds each statement. Default: 30s.
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`

	// TableInfo replaces schema introspection when set.
	TableInfo string `yaml:"table_info" toml:"table_info"`

	// SampleRows is how many rows introspection appends. Default: 3.
	SampleRows int `yaml:"sample_rows" toml:"sample_rows"`

	// MaxRows caps materialized rows. Zero means no cap.
	MaxRows int `yaml:"max_rows" toml:"max_rows"`
}

// DBExecutor executes statements over database/sql.
type DBExecutor struct {
	db     *sql.DB
	config ExecutorConfig
}

var _ QueryExecutor = (*DBExecutor)(nil)

// OpenDatabase opens a pool for a "postgres" or "sqlite" driver name.
func OpenDatabase(driver, dsn string) (*sql.DB, string, error) {
	var driverName, dialect string
	switch strings.ToLower(driver) {
	case "postgres", "postgresql":
		driverName, dialect = "postgres", DialectPostgres
	case "sqlite", "sqlite3":
		driverName, dialect = "sqlite", DialectSQLite
	default:
		return nil, "", fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", driverName, err)
	}
	return db, dialect, nil
}

// NewDBExecutor wraps db. The caller keeps ownership of db.
func NewDBExecutor(db *sql.DB, config ExecutorConfig) *DBExecutor {
	if config.Timeout <= 0 {
		config.Timeout = DefaultQueryTimeout
	}
	if config.SampleRows <= 0 {
		config.SampleRows = 3
	}
	if config.Dialect == "" {
		config.Dialect = DialectPostgres
	}
	return &DBExecutor{db: db, config: config}
}

func (e *DBExecutor) Dialect() string { return e.config.Dialect }

// Query executes a single read-only statement.
//
// The prefix check only rejects the obvious cases. The statement itself
// always runs inside a read-only transaction that is rolled back, and on
// SQLite the pinned connection is switched to query_only for the call, so
// a data-modifying CTE fails in the database.
func (e *DBExecutor) Query(ctx context.Context, statement string) (ResultSet, error) {
	statement = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(statement), ";"))
	if !IsReadQuery(statement) {
		return ResultSet{}, &ExecutionError{SQL: statement, Err: ErrNotReadOnly}
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return ResultSet{}, &ExecutionError{SQL: statement, Err: err}
	}
	defer conn.Close()

	if e.config.Dialect == DialectSQLite {
		if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			return ResultSet{}, &ExecutionError{SQL: statement, Err: err}
		}
		defer func() { _, _ = conn.ExecContext(context.Background(), "PRAGMA query_only = OFF") }()
	}

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return ResultSet{}, &ExecutionError{SQL: statement, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, statement)
	if err != nil {
		return ResultSet{}, &ExecutionError{SQL: statement, Err: err}
	}
	defer rows.Close()

	rs, err := collect(rows, e.config.MaxRows)
	if err != nil {
		return ResultSet{}, &ExecutionError{SQL: statement, Err: err}
	}
	return rs, nil
}

func collect(rows *sql.Rows, maxRows int) (ResultSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return ResultSet{}, err
	}
	rs := ResultSet{Columns: cols}
	for rows.Next() {
		if maxRows > 0 && len(rs.Rows) >= maxRows {
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return ResultSet{}, err
		}
		rs.Rows = append(rs.Rows, vals)
	}
	return rs, rows.Err()
}

// TableInfo returns the CREATE-style description of the configured table
// followed by a few sample rows.
func (e *DBExecutor) TableInfo(ctx context.Context) (string, error) {
	if e.config.TableInfo != "" {
		return e.config.TableInfo, nil
	}
	if e.config.Table == "" {
		return "", errors.New("no table configured for introspection")
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	var query string
	var args []any
	switch e.config.Dialect {
	case DialectSQLite:
		query = `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`
		args = []any{e.config.Table}
	default:
		query = `SELECT column_name, data_type FROM information_schema.columns WHERE table_name = $1 ORDER BY ordinal_position`
		args = []any{e.config.Table}
	}

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return "", fmt.Errorf("introspect %s: %w", e.config.Table, err)
	}
	defer rows.Close()

	var columns []string
	var defs []string
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return "", fmt.Errorf("introspect %s: %w", e.config.Table, err)
		}
		columns = append(columns, name)
		defs = append(defs, fmt.Sprintf("\t%q %s", name, strings.ToUpper(typ)))
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("introspect %s: %w", e.config.Table, err)
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("table %q has no columns or does not exist", e.config.Table)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %q (\n%s\n)\n", e.config.Table, strings.Join(defs, ",\n"))

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	sample, err := e.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %q LIMIT %d", strings.Join(quoted, ", "), e.config.Table, e.config.SampleRows))
	if err != nil {
		return b.String(), nil
	}
	defer sample.Close()
	rs, err := collect(sample, 0)
	if err != nil {
		return b.String(), nil
	}

	fmt.Fprintf(&b, "\n/*\n%d rows from %s table:\n%s\n", len(rs.Rows), e.config.Table, strings.Join(columns, "\t"))
	for _, row := range rs.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = strings.Trim(renderValue(v), "'")
		}
		b.WriteString(strings.Join(cells, "\t"))
		b.WriteString("\n")
	}
	b.WriteString("*/")
	return b.String(), nil
}
