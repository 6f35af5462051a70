package dbexec

import (
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

var pgTypes = pgtype.NewMap()

type pgxRows struct {
	rows    pgx.Rows
	columns []Column
}

// FromPgxRows adapts a pgx cursor. Column type names are resolved through the
// default pgtype map.
func FromPgxRows(rows pgx.Rows) Rows {
	return &pgxRows{rows: rows}
}

func (r *pgxRows) Columns() ([]Column, error) {
	if r.columns != nil {
		return r.columns, nil
	}
	fields := r.rows.FieldDescriptions()
	columns := make([]Column, len(fields))
	for i, fd := range fields {
		columns[i] = Column{Name: fd.Name}
		if t, ok := pgTypes.TypeForOID(fd.DataTypeOID); ok {
			columns[i].DatabaseType = t.Name
		}
	}
	r.columns = columns
	return columns, nil
}

func (r *pgxRows) Next() bool {
	return r.rows.Next()
}

func (r *pgxRows) Values() ([]any, error) {
	return r.rows.Values()
}

func (r *pgxRows) Err() error {
	return r.rows.Err()
}

func (r *pgxRows) Close() error {
	r.rows.Close()
	return r.rows.Err()
}
