// Package fakerows provides an in-memory dbexec cursor for tests.
package fakerows

import (
	"errors"
	"fmt"
	"reflect"

	"resultmap/internal/dbexec"
)

// Set is one result set.
type Set struct {
	Columns []dbexec.Column
	Rows    [][]any
	// Err is reported by Err once the set is exhausted.
	Err error
}

// Rows is an in-memory cursor over one or more result sets.
type Rows struct {
	sets   []Set
	set    int
	idx    int
	closed bool
	// ValueErr, when set, is returned by Values on the row with index ValueErrAt.
	ValueErr   error
	ValueErrAt int
}

var _ dbexec.MultiRows = (*Rows)(nil)

// New returns a cursor over the given sets.
func New(sets ...Set) *Rows {
	return &Rows{sets: sets, ValueErrAt: -1}
}

// Single returns a cursor with one result set. Column types are inferred from
// the first row that has a non-nil value in each column.
func Single(columns []string, rows ...[]any) *Rows {
	return New(NewSet(columns, rows...))
}

// NewSet builds a result set with inferred column metadata.
func NewSet(columns []string, rows ...[]any) Set {
	cols := make([]dbexec.Column, len(columns))
	for i, name := range columns {
		cols[i] = dbexec.Column{Name: name}
		for _, row := range rows {
			if i < len(row) && row[i] != nil {
				cols[i].ScanType = reflect.TypeOf(row[i])
				cols[i].DatabaseType = databaseType(row[i])
				break
			}
		}
	}
	return Set{Columns: cols, Rows: rows}
}

func databaseType(v any) string {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "BIGINT"
	case float32, float64:
		return "DOUBLE"
	case bool:
		return "BOOLEAN"
	case []byte:
		return "BLOB"
	case string:
		return "VARCHAR"
	default:
		return ""
	}
}

func (r *Rows) Columns() ([]dbexec.Column, error) {
	if r.closed {
		return nil, errors.New("rows are closed")
	}
	if r.set >= len(r.sets) {
		return nil, nil
	}
	return r.sets[r.set].Columns, nil
}

func (r *Rows) Next() bool {
	if r.closed || r.set >= len(r.sets) {
		return false
	}
	if r.idx >= len(r.sets[r.set].Rows) {
		return false
	}
	r.idx++
	return true
}

func (r *Rows) Values() ([]any, error) {
	if r.closed {
		return nil, errors.New("rows are closed")
	}
	if r.set >= len(r.sets) || r.idx == 0 || r.idx > len(r.sets[r.set].Rows) {
		return nil, errors.New("values called without advancing rows")
	}
	if r.ValueErr != nil && r.ValueErrAt == r.idx-1 {
		return nil, r.ValueErr
	}
	row := r.sets[r.set].Rows[r.idx-1]
	if len(row) != len(r.sets[r.set].Columns) {
		return nil, fmt.Errorf("row has %d values, result set has %d columns", len(row), len(r.sets[r.set].Columns))
	}
	return append([]any(nil), row...), nil
}

func (r *Rows) NextResultSet() bool {
	if r.closed || r.set+1 >= len(r.sets) {
		return false
	}
	r.set++
	r.idx = 0
	return true
}

func (r *Rows) Err() error {
	if r.set < len(r.sets) && r.idx >= len(r.sets[r.set].Rows) {
		return r.sets[r.set].Err
	}
	return nil
}

func (r *Rows) Close() error {
	r.closed = true
	return nil
}

// Closed reports whether Close was called.
func (r *Rows) Closed() bool {
	return r.closed
}

// Consumed returns the number of rows read from the current result set.
func (r *Rows) Consumed() int {
	return r.idx
}
