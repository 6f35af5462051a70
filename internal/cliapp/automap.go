package cliapp

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"resultmap/internal/dbexec"
	"resultmap/internal/mapping"
	"resultmap/internal/naming"
	"resultmap/internal/sqltype"
)

// RootMapID is the id of the result map built for the top-level rows of a query.
const RootMapID = "row"

var (
	rowType  = reflect.TypeFor[map[string]any]()
	listType = reflect.TypeFor[[]any]()
)

// Shape describes how the flat columns of an ad-hoc query nest. Columns starting
// with a collection prefix become members of a nested list, columns starting with
// an association prefix become a nested object. Everything else stays on the row.
type Shape struct {
	IDColumn     string
	Collections  []string
	Associations []string
}

type columnGroup struct {
	prefix     string
	collection bool
	columns    []dbexec.Column
}

// BuildResultMaps derives result maps for columns. Every object is a
// map[string]any keyed by the camelCase form of its column names.
func BuildResultMaps(columns []dbexec.Column, shape Shape, namer *naming.Namer) ([]*mapping.ResultMap, error) {
	groups, err := shapeGroups(shape)
	if err != nil {
		return nil, err
	}

	var rootColumns []dbexec.Column
	for _, c := range columns {
		if g := longestPrefix(groups, c.Name); g != nil {
			g.columns = append(g.columns, c)
			continue
		}
		rootColumns = append(rootColumns, c)
	}

	root := &mapping.ResultMap{ID: RootMapID, Type: rowType, Bindings: columnBindings(rootColumns, "", shape.IDColumn, namer)}
	maps := []*mapping.ResultMap{root}
	for _, g := range groups {
		if len(g.columns) == 0 {
			return nil, fmt.Errorf("no column starts with prefix %q", g.prefix)
		}
		nested := mapping.Binding{ColumnPrefix: g.prefix}
		if g.collection {
			nested.Property = namer.CollectionName(g.prefix)
			nested.GoType = listType
			nested.NestedResultMapID = "collection:" + strings.ToLower(g.prefix)
		} else {
			nested.Property = namer.AssociationName(g.prefix)
			nested.NestedResultMapID = "association:" + strings.ToLower(g.prefix)
		}
		maps = append(maps, &mapping.ResultMap{
			ID:       nested.NestedResultMapID,
			Type:     rowType,
			Bindings: columnBindings(g.columns, g.prefix, shape.IDColumn, namer),
		})
		root.Bindings = append(root.Bindings, nested)
	}
	return maps, nil
}

func shapeGroups(shape Shape) ([]*columnGroup, error) {
	var groups []*columnGroup
	seen := make(map[string]bool)
	add := func(prefix string, collection bool) error {
		key := strings.ToUpper(strings.TrimSpace(prefix))
		if key == "" {
			return fmt.Errorf("empty column prefix")
		}
		if seen[key] {
			return fmt.Errorf("column prefix %q is declared twice", prefix)
		}
		seen[key] = true
		groups = append(groups, &columnGroup{prefix: strings.TrimSpace(prefix), collection: collection})
		return nil
	}
	for _, p := range shape.Collections {
		if err := add(p, true); err != nil {
			return nil, err
		}
	}
	for _, p := range shape.Associations {
		if err := add(p, false); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

func longestPrefix(groups []*columnGroup, column string) *columnGroup {
	var best *columnGroup
	upper := strings.ToUpper(column)
	for _, g := range groups {
		p := strings.ToUpper(g.prefix)
		if len(upper) > len(p) && strings.HasPrefix(upper, p) && (best == nil || len(p) > len(best.prefix)) {
			best = g
		}
	}
	return best
}

func columnBindings(columns []dbexec.Column, prefix, idColumn string, namer *naming.Namer) []mapping.Binding {
	bindings := make([]mapping.Binding, 0, len(columns))
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		name := c.Name[len(prefix):]
		property := namer.ToFieldName(name)
		if seen[property] {
			continue
		}
		seen[property] = true
		bindings = append(bindings, mapping.Binding{
			Property: property,
			Column:   name,
			GoType:   valueType(c),
			ID:       idColumn != "" && strings.EqualFold(name, idColumn),
		})
	}
	return bindings
}

// valueType picks the Go type a column is converted to. Binary, time-of-day and
// unrecognized columns keep the driver value.
func valueType(c dbexec.Column) reflect.Type {
	if strings.EqualFold(strings.TrimSpace(c.DatabaseType), "TIME") {
		return nil
	}
	switch sqltype.FromDatabaseType(c.DatabaseType) {
	case sqltype.Integer:
		return reflect.TypeFor[int64]()
	case sqltype.Float:
		return reflect.TypeFor[float64]()
	case sqltype.Decimal:
		return reflect.TypeFor[decimal.Decimal]()
	case sqltype.Boolean:
		return reflect.TypeFor[bool]()
	case sqltype.String:
		return reflect.TypeFor[string]()
	case sqltype.Temporal:
		return reflect.TypeFor[time.Time]()
	case sqltype.JSON:
		return reflect.TypeFor[json.RawMessage]()
	case sqltype.UUID:
		return reflect.TypeFor[uuid.UUID]()
	}
	return nil
}
