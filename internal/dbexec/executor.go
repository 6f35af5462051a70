// Package dbexec provides the row cursors consumed by the mapping engine and
// query execution abstractions that produce them.
package dbexec

import (
	"context"
	"database/sql"
	"reflect"
)

// Column describes one column of a result set.
type Column struct {
	Name         string
	DatabaseType string
	// ScanType is the Go type the driver scans the column into. It may be nil.
	ScanType reflect.Type
}

// Rows is a forward-only cursor over one or more result sets.
type Rows interface {
	// Columns describes the current result set.
	Columns() ([]Column, error)
	Next() bool
	// Values returns the raw values of the current row.
	Values() ([]any, error)
	Err() error
	Close() error
}

// MultiRows is implemented by cursors that can advance to a following result set.
type MultiRows interface {
	Rows
	NextResultSet() bool
}

// QueryExecutor abstracts SQL execution so callers can swap in instrumented or fake databases.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
}

// StandardExecutor executes queries directly against a database handle.
type StandardExecutor struct {
	db *sql.DB
}

// NewStandardExecutor creates an executor that runs queries directly against the database.
func NewStandardExecutor(db *sql.DB) *StandardExecutor {
	return &StandardExecutor{db: db}
}

func (e *StandardExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return FromSQLRows(rows), nil
}
