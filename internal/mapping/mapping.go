// Package mapping holds the declarative description of how result rows become objects.
//
// Result maps are registered once in an immutable Registry. A result map may refer to
// other result maps (nested mappings and discriminator cases), including itself.
package mapping

import (
	"fmt"
	"reflect"
	"strings"

	"resultmap/internal/sqltype"
	"resultmap/internal/typeconv"
)

// AutoMapping overrides the global automatic mapping behavior for one result map.
type AutoMapping int

const (
	// AutoMappingInherit applies the global behavior.
	AutoMappingInherit AutoMapping = iota
	// AutoMappingAlways maps unmapped columns even for nested result maps.
	AutoMappingAlways
	// AutoMappingNever disables automatic mapping.
	AutoMappingNever
)

// Fetch selects how a nested query binding is loaded.
type Fetch int

const (
	// FetchDefault follows the lazy loading setting.
	FetchDefault Fetch = iota
	// FetchLazy always defers the sub-query until the value is read.
	FetchLazy
	// FetchEager always runs the sub-query immediately.
	FetchEager
)

// Binding maps one column, composite column group, nested result map,
// nested query or secondary result set onto a property or constructor argument.
type Binding struct {
	Property string
	Column   string
	// ColumnPrefix is prepended to every column of a nested result map.
	ColumnPrefix string
	// GoType is the target type. When nil it is taken from the property or constructor parameter.
	GoType    reflect.Type
	TypeCode  sqltype.Code
	Converter typeconv.Converter

	NestedResultMapID string
	NestedQueryID     string
	// NotNullColumns lists the columns of which at least one must be non-null
	// for the nested object to exist.
	NotNullColumns []string
	// ResultSet names a secondary result set holding the related rows.
	ResultSet string
	// ForeignColumn is the column of the secondary result set matching Column.
	ForeignColumn string
	// Composites maps several columns onto the properties of a sub-query parameter.
	Composites []Binding

	ID          bool
	Constructor bool
	Fetch       Fetch
}

// IsComposite reports whether the binding groups several columns.
func (b *Binding) IsComposite() bool {
	return len(b.Composites) > 0
}

// Lazy reports whether the nested query runs lazily given the global setting.
func (b *Binding) Lazy(lazyLoadingEnabled bool) bool {
	switch b.Fetch {
	case FetchLazy:
		return true
	case FetchEager:
		return false
	default:
		return lazyLoadingEnabled
	}
}

// Discriminator selects a concrete result map from the value of one column.
type Discriminator struct {
	Column    string
	GoType    reflect.Type
	TypeCode  sqltype.Code
	Converter typeconv.Converter
	// Cases maps the string form of a column value to a result map id.
	Cases map[string]string
}

// MapIDFor returns the result map id selected by value. A nil value matches no case.
func (d *Discriminator) MapIDFor(value any) (string, bool) {
	if value == nil {
		return "", false
	}
	id, ok := d.Cases[caseKey(value)]
	return id, ok
}

func caseKey(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(value)
}

// ResultMap describes how to build one object type from a row.
type ResultMap struct {
	ID            string
	Type          reflect.Type
	Bindings      []Binding
	Discriminator *Discriminator
	AutoMapping   AutoMapping

	idBindings          []*Binding
	constructorBindings []*Binding
	propertyBindings    []*Binding
	mappedColumns       map[string]struct{}
	mappedProperties    map[string]struct{}
	hasNestedResultMaps bool
	hasNestedQueries    bool
}

// IDBindings returns the bindings that identify a row. When no binding is
// flagged as an id, every binding identifies the row.
func (rm *ResultMap) IDBindings() []*Binding {
	return rm.idBindings
}

// ConstructorBindings returns the constructor arguments in declaration order.
func (rm *ResultMap) ConstructorBindings() []*Binding {
	return rm.constructorBindings
}

// PropertyBindings returns the non-constructor bindings in declaration order.
func (rm *ResultMap) PropertyBindings() []*Binding {
	return rm.propertyBindings
}

// MapsColumn reports whether a binding reads the column. Matching is case-insensitive.
func (rm *ResultMap) MapsColumn(column string) bool {
	_, ok := rm.mappedColumns[strings.ToUpper(column)]
	return ok
}

// MappedColumnCount returns the number of distinct columns read by bindings.
func (rm *ResultMap) MappedColumnCount() int {
	return len(rm.mappedColumns)
}

// MapsProperty reports whether an explicit binding targets the property.
func (rm *ResultMap) MapsProperty(property string) bool {
	_, ok := rm.mappedProperties[property]
	return ok
}

// HasNestedResultMaps reports whether rows must be grouped by identity.
func (rm *ResultMap) HasNestedResultMaps() bool {
	return rm.hasNestedResultMaps
}

// HasNestedQueries reports whether any binding runs a sub-query.
func (rm *ResultMap) HasNestedQueries() bool {
	return rm.hasNestedQueries
}

func (rm *ResultMap) resolve() {
	rm.idBindings = nil
	rm.constructorBindings = nil
	rm.propertyBindings = nil
	rm.mappedColumns = make(map[string]struct{})
	rm.mappedProperties = make(map[string]struct{})
	rm.hasNestedResultMaps = false
	rm.hasNestedQueries = false

	for i := range rm.Bindings {
		b := &rm.Bindings[i]
		if b.NestedResultMapID != "" && b.ResultSet == "" {
			rm.hasNestedResultMaps = true
		}
		if b.NestedQueryID != "" {
			rm.hasNestedQueries = true
		}
		if b.Column != "" {
			rm.mappedColumns[strings.ToUpper(b.Column)] = struct{}{}
		} else {
			for _, c := range b.Composites {
				if c.Column != "" {
					rm.mappedColumns[strings.ToUpper(c.Column)] = struct{}{}
				}
			}
		}
		if b.Property != "" {
			rm.mappedProperties[b.Property] = struct{}{}
		}
		if b.Constructor {
			rm.constructorBindings = append(rm.constructorBindings, b)
		} else {
			rm.propertyBindings = append(rm.propertyBindings, b)
		}
		if b.ID {
			rm.idBindings = append(rm.idBindings, b)
		}
	}
	if len(rm.idBindings) == 0 {
		for i := range rm.Bindings {
			rm.idBindings = append(rm.idBindings, &rm.Bindings[i])
		}
	}
}
