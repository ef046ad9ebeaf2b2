package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// QueryResult holds the result of a read-only SQL query.
type QueryResult struct {
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`
}

// ErrMultipleStatements rejects SQL containing a statement separator.
var ErrMultipleStatements = errors.New("multiple statements not allowed")

const queryStatementTimeout = "30s"

// ExecuteReadOnlyQuery runs one statement in a read-only transaction under a
// statement timeout, returning at most maxRows rows.
func (db *DB) ExecuteReadOnlyQuery(ctx context.Context, sql string, params []any, maxRows int) (*QueryResult, error) {
	if strings.Contains(sql, ";") {
		return nil, ErrMultipleStatements
	}

	result := &QueryResult{Columns: []string{}, Rows: [][]any{}}
	err := pgx.BeginTxFunc(ctx, db.Pool, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SET LOCAL statement_timeout = '"+queryStatementTimeout+"'"); err != nil {
			return fmt.Errorf("set statement timeout: %w", err)
		}
		rows, err := tx.Query(ctx, sql, params...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()

		for _, f := range rows.FieldDescriptions() {
			result.Columns = append(result.Columns, f.Name)
		}
		for len(result.Rows) < maxRows && rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return fmt.Errorf("scan row: %w", err)
			}
			result.Rows = append(result.Rows, values)
		}
		// The connection stays busy until rows is closed, and the commit
		// would fail with "conn busy" after stopping at maxRows.
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.RowCount = len(result.Rows)
	return result, nil
}

// Column describes one column of a queryable table or view.
type Column struct {
	Table    string `json:"table"`
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
}

// queryableTables are the relations exposed to read-only queries.
var queryableTables = []string{"videos", "video_segments", "search_view"}

// DescribeSchema lists the columns of every queryable relation, for callers
// composing read-only queries.
func (db *DB) DescribeSchema(ctx context.Context) ([]Column, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT table_name, column_name, data_type, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = ANY($1)
		ORDER BY table_name, ordinal_position`, queryableTables)
	if err != nil {
		return nil, fmt.Errorf("describe schema: %w", err)
	}
	defer rows.Close()

	cols := []Column{}
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Table, &c.Name, &c.DataType, &c.Nullable); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}
