package dbexec

import (
	"database/sql"
	"fmt"
)

type sqlRows struct {
	rows    *sql.Rows
	columns []Column
}

// FromSQLRows adapts *sql.Rows. The adapter supports multiple result sets.
func FromSQLRows(rows *sql.Rows) MultiRows {
	return &sqlRows{rows: rows}
}

func (r *sqlRows) Columns() ([]Column, error) {
	if r.columns != nil {
		return r.columns, nil
	}
	types, err := r.rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types: %w", err)
	}
	columns := make([]Column, len(types))
	for i, ct := range types {
		columns[i] = Column{
			Name:         ct.Name(),
			DatabaseType: ct.DatabaseTypeName(),
			ScanType:     ct.ScanType(),
		}
	}
	r.columns = columns
	return columns, nil
}

func (r *sqlRows) Next() bool {
	return r.rows.Next()
}

func (r *sqlRows) Values() ([]any, error) {
	columns, err := r.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := r.rows.Scan(dest...); err != nil {
		return nil, err
	}
	return values, nil
}

func (r *sqlRows) NextResultSet() bool {
	r.columns = nil
	return r.rows.NextResultSet()
}

func (r *sqlRows) Err() error {
	return r.rows.Err()
}

func (r *sqlRows) Close() error {
	return r.rows.Close()
}
