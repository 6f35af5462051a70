// Package rowsource wraps a cursor with the per-result-set metadata the mapping engine needs.
//
// A Wrapper captures column names, type codes and scan types once, caches the split
// between mapped and unmapped columns per (result map, prefix), and memoizes the
// converter chosen for each (column, target type).
package rowsource

import (
	"fmt"
	"reflect"
	"strings"

	"resultmap/internal/dbexec"
	"resultmap/internal/mapping"
	"resultmap/internal/sqltype"
	"resultmap/internal/typeconv"
)

type columnSplit struct {
	mapped   []string
	unmapped []string
	isMapped map[string]struct{}
}

type converterKey struct {
	column string
	target reflect.Type
	code   sqltype.Code
}

// Wrapper is a row source over one result set of a cursor.
type Wrapper struct {
	rows       dbexec.Rows
	converters *typeconv.Registry

	names     []string
	codes     []sqltype.Code
	scanTypes []reflect.Type
	index     map[string]int

	values []any

	splits map[string]*columnSplit
	cache  map[converterKey]typeconv.Converter
}

// New reads the column metadata of the cursor's current result set.
func New(rows dbexec.Rows, converters *typeconv.Registry) (*Wrapper, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	w := &Wrapper{
		rows:       rows,
		converters: converters,
		names:      make([]string, len(columns)),
		codes:      make([]sqltype.Code, len(columns)),
		scanTypes:  make([]reflect.Type, len(columns)),
		index:      make(map[string]int, len(columns)),
		splits:     make(map[string]*columnSplit),
		cache:      make(map[converterKey]typeconv.Converter),
	}
	for i, c := range columns {
		w.names[i] = c.Name
		w.codes[i] = sqltype.FromDatabaseType(c.DatabaseType)
		w.scanTypes[i] = c.ScanType
		upper := strings.ToUpper(c.Name)
		if _, dup := w.index[upper]; !dup {
			w.index[upper] = i
		}
	}
	return w, nil
}

// Rows returns the underlying cursor.
func (w *Wrapper) Rows() dbexec.Rows {
	return w.rows
}

// Next advances to the next row and loads its values.
func (w *Wrapper) Next() (bool, error) {
	if !w.rows.Next() {
		w.values = nil
		return false, w.rows.Err()
	}
	values, err := w.rows.Values()
	if err != nil {
		w.values = nil
		return false, err
	}
	w.values = values
	return true, nil
}

// ColumnNames returns the column names in cursor order.
func (w *Wrapper) ColumnNames() []string {
	return w.names
}

// HasColumn reports whether the result set has the column. Matching is case-insensitive.
func (w *Wrapper) HasColumn(column string) bool {
	_, ok := w.index[strings.ToUpper(column)]
	return ok
}

// Code returns the type code of a column, or sqltype.Unknown.
func (w *Wrapper) Code(column string) sqltype.Code {
	if i, ok := w.index[strings.ToUpper(column)]; ok {
		return w.codes[i]
	}
	return sqltype.Unknown
}

// ScanType returns the driver scan type of a column. It may be nil.
func (w *Wrapper) ScanType(column string) reflect.Type {
	if i, ok := w.index[strings.ToUpper(column)]; ok {
		return w.scanTypes[i]
	}
	return nil
}

// Raw returns the unconverted value of a column in the current row.
func (w *Wrapper) Raw(column string) (any, bool) {
	i, ok := w.index[strings.ToUpper(column)]
	if !ok || i >= len(w.values) {
		return nil, false
	}
	return w.values[i], true
}

// Read converts the value of a column in the current row. Missing columns read as nil.
func (w *Wrapper) Read(column string, c typeconv.Converter) (any, error) {
	raw, ok := w.Raw(column)
	if !ok || raw == nil {
		return nil, nil
	}
	if c == nil {
		c = w.converters.Unknown()
	}
	return c.Convert(raw)
}

// Converter returns the converter for reading column into target. The lookup order is
// (target, code), then the column's scan type when it converts to target, then the
// generic converter. code overrides the column's own code unless it is sqltype.Unknown.
func (w *Wrapper) Converter(target reflect.Type, column string, code sqltype.Code) typeconv.Converter {
	if code == sqltype.Unknown {
		code = w.Code(column)
	}
	key := converterKey{column: strings.ToUpper(column), target: target, code: code}
	if c, ok := w.cache[key]; ok {
		return c
	}
	c := w.lookup(target, column, code)
	w.cache[key] = c
	return c
}

func (w *Wrapper) lookup(target reflect.Type, column string, code sqltype.Code) typeconv.Converter {
	if target == nil {
		target = reflect.TypeFor[any]()
	}
	if c, ok := w.converters.Lookup(target, code); ok {
		return c
	}
	if scan := w.ScanType(column); scan != nil && scan.ConvertibleTo(target) {
		if c, ok := w.converters.Lookup(scan, code); ok {
			return convertTo(c, target)
		}
	}
	return w.converters.Unknown()
}

func convertTo(c typeconv.Converter, target reflect.Type) typeconv.Converter {
	return typeconv.ConverterFunc(func(src any) (any, error) {
		v, err := c.Convert(src)
		if err != nil || v == nil {
			return v, err
		}
		rv := reflect.ValueOf(v)
		if !rv.Type().ConvertibleTo(target) {
			return nil, fmt.Errorf("cannot convert %T to %s", v, target)
		}
		return rv.Convert(target).Interface(), nil
	})
}

func splitKey(rm *mapping.ResultMap, prefix string) string {
	return rm.ID + ":" + prefix
}

func (w *Wrapper) split(rm *mapping.ResultMap, prefix string) *columnSplit {
	key := splitKey(rm, prefix)
	if s, ok := w.splits[key]; ok {
		return s
	}
	upperPrefix := strings.ToUpper(prefix)
	s := &columnSplit{isMapped: make(map[string]struct{})}
	for _, name := range w.names {
		upper := strings.ToUpper(name)
		if strings.HasPrefix(upper, upperPrefix) && rm.MapsColumn(upper[len(upperPrefix):]) {
			s.mapped = append(s.mapped, upper)
			s.isMapped[upper] = struct{}{}
		} else {
			s.unmapped = append(s.unmapped, name)
		}
	}
	w.splits[key] = s
	return s
}

// MappedColumns returns the upper-cased result set columns that bindings of rm read
// once prefix is prepended. The result is cached per (rm, prefix).
func (w *Wrapper) MappedColumns(rm *mapping.ResultMap, prefix string) []string {
	return w.split(rm, prefix).mapped
}

// UnmappedColumns returns the result set columns, in their original case, that no
// binding of rm reads under prefix.
func (w *Wrapper) UnmappedColumns(rm *mapping.ResultMap, prefix string) []string {
	return w.split(rm, prefix).unmapped
}

// IsMapped reports whether column is read by a binding of rm under prefix.
func (w *Wrapper) IsMapped(rm *mapping.ResultMap, prefix, column string) bool {
	_, ok := w.split(rm, prefix).isMapped[strings.ToUpper(column)]
	return ok
}

// Close closes the underlying cursor.
func (w *Wrapper) Close() error {
	return w.rows.Close()
}
