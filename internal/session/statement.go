package session

import (
	"fmt"
	"reflect"

	sq "github.com/Masterminds/squirrel"

	"resultmap/internal/engine"
	"resultmap/internal/reflectx"
	"resultmap/internal/sqlutil"
)

// Builder renders the query of a statement for one parameter.
type Builder func(param any) (sq.Sqlizer, error)

// Statement is a named query together with the result maps its rows are mapped with.
type Statement struct {
	ID            string
	ResultMaps    []string
	ResultSets    []string
	ResultOrdered bool
	// ParameterType is the type composite sub-query parameters are built into.
	// Nil passes them as map[string]any.
	ParameterType reflect.Type
	Build         Builder
	// FlushCache clears the local cache before the statement runs as an outermost query.
	FlushCache bool
}

// Query is rendered SQL with its arguments.
type Query struct {
	SQL  string
	Args []any
}

func (s *Statement) render(param any) (Query, error) {
	sqlizer, err := s.Build(param)
	if err != nil {
		return Query{}, fmt.Errorf("failed to build statement %s: %w", s.ID, err)
	}
	query, args, err := sqlizer.ToSql()
	if err != nil {
		return Query{}, fmt.Errorf("failed to render statement %s: %w", s.ID, err)
	}
	return Query{SQL: query, Args: args}, nil
}

func (s *Statement) engineStatement() engine.Statement {
	return engine.Statement{
		ID:            s.ID,
		ResultMaps:    s.ResultMaps,
		ResultSets:    s.ResultSets,
		ResultOrdered: s.ResultOrdered,
	}
}

// Key pairs a key column with the parameter property holding its value.
type Key struct {
	Column string
	// Property is read from the parameter. Empty means the parameter itself.
	Property string
}

// Lookup selects columns of one table by key equality. Identifiers may be qualified
// and are quoted with backticks. OrderBy terms may end in ASC or DESC. Placeholder
// defaults to question marks.
type Lookup struct {
	Table       string
	Columns     []string
	Keys        []Key
	OrderBy     []string
	Placeholder sq.PlaceholderFormat
}

// Build renders the lookup for param.
func (l Lookup) Build(param any) (sq.Sqlizer, error) {
	if l.Table == "" {
		return nil, fmt.Errorf("lookup requires a table")
	}
	columns := []string{"*"}
	if len(l.Columns) > 0 {
		columns = make([]string, len(l.Columns))
		for i, c := range l.Columns {
			columns[i] = sqlutil.QuoteQualified(c)
		}
	}
	builder := sq.Select(columns...).From(sqlutil.QuoteQualified(l.Table))
	for _, k := range l.Keys {
		value, err := keyValue(param, k)
		if err != nil {
			return nil, err
		}
		builder = builder.Where(sq.Eq{sqlutil.QuoteQualified(k.Column): value})
	}
	for _, o := range l.OrderBy {
		builder = builder.OrderBy(sqlutil.QuoteOrderTerm(o))
	}
	format := l.Placeholder
	if format == nil {
		format = sq.Question
	}
	return builder.PlaceholderFormat(format), nil
}

func keyValue(param any, k Key) (any, error) {
	if k.Property == "" {
		return param, nil
	}
	if param == nil {
		return nil, fmt.Errorf("key %s needs property %q of a nil parameter", k.Column, k.Property)
	}
	if rv := reflect.ValueOf(param); rv.Kind() == reflect.Struct {
		p := reflect.New(rv.Type())
		p.Elem().Set(rv)
		param = p.Interface()
	}
	meta, err := reflectx.Of(param)
	if err != nil {
		return nil, fmt.Errorf("key %s: %w", k.Column, err)
	}
	value, err := meta.Get(k.Property)
	if err != nil {
		return nil, fmt.Errorf("key %s: %w", k.Column, err)
	}
	return value, nil
}

// Raw builds statements from fixed SQL. A slice parameter supplies every argument;
// any other non-nil parameter is the single argument.
func Raw(query string) Builder {
	return func(param any) (sq.Sqlizer, error) {
		return sq.Expr(query, rawArgs(param)...), nil
	}
}

func rawArgs(param any) []any {
	if param == nil {
		return nil
	}
	if args, ok := param.([]any); ok {
		return args
	}
	rv := reflect.ValueOf(param)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		args := make([]any, rv.Len())
		for i := range args {
			args[i] = rv.Index(i).Interface()
		}
		return args
	}
	return []any{param}
}
