package engine

import (
	"reflect"
	"strings"

	"resultmap/internal/maperr"
	"resultmap/internal/mapping"
	"resultmap/internal/reflectx"
	"resultmap/internal/rowkey"
	"resultmap/internal/rowsource"
)

// ancestors holds the objects under construction in the current row, per result map id.
type ancestors struct {
	stacks map[string][]any
}

func newAncestors() *ancestors {
	return &ancestors{stacks: make(map[string][]any)}
}

func (a *ancestors) push(id string, obj any) {
	a.stacks[id] = append(a.stacks[id], obj)
}

func (a *ancestors) pop(id string) {
	s := a.stacks[id]
	if len(s) <= 1 {
		delete(a.stacks, id)
		return
	}
	a.stacks[id] = s[:len(s)-1]
}

func (a *ancestors) lookup(id string) (any, bool) {
	s := a.stacks[id]
	if len(s) == 0 {
		return nil, false
	}
	return s[len(s)-1], true
}

// handleRowValuesForNestedResultMap groups consecutive rows by root identity. In
// ordered mode a root object is delivered as soon as a row with another key arrives;
// otherwise it is delivered when it is first created and completed in place.
func (h *Handler) handleRowValuesForNestedResultMap(w *rowsource.Wrapper, rm *mapping.ResultMap, consumer ResultHandler, bounds RowBounds, parent *mapping.Binding) error {
	rc := &ResultContext{}
	if err := h.skipRows(w, bounds.Offset); err != nil {
		return err
	}
	rowValue := h.previousRowValue
	for !rc.IsStopped() && bounds.allows(rc.Count()) {
		ok, err := h.advance(w)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		effective, err := h.ResolveEffectiveMapping(w, rm, "")
		if err != nil {
			return err
		}
		rowKey := h.createRowKey(w, effective, "")
		partial, _ := h.pool.Get(rowKey)
		if h.stmt.ResultOrdered {
			if partial == nil && rowValue != nil {
				h.pool.Clear()
				if err := h.storeObject(w, consumer, rc, rowValue, parent); err != nil {
					return err
				}
			}
			if rowValue, err = h.getNestedRowValue(w, effective, rowKey, "", partial, newAncestors()); err != nil {
				return err
			}
		} else {
			if rowValue, err = h.getNestedRowValue(w, effective, rowKey, "", partial, newAncestors()); err != nil {
				return err
			}
			if partial == nil {
				if err := h.storeObject(w, consumer, rc, rowValue, parent); err != nil {
					return err
				}
			}
		}
		if rowKey.IsNull() && rowValue != nil {
			h.noteDegenerateKey(effective)
		}
	}
	if rowValue != nil && h.stmt.ResultOrdered && !rc.IsStopped() && bounds.allows(rc.Count()) {
		if err := h.storeObject(w, consumer, rc, rowValue, parent); err != nil {
			return err
		}
		h.previousRowValue = nil
	} else if rowValue != nil {
		h.previousRowValue = rowValue
	}
	return nil
}

// getNestedRowValue builds or completes the object for rm identified by combinedKey.
// A partial object found in the pool only receives this row's nested values.
func (h *Handler) getNestedRowValue(w *rowsource.Wrapper, rm *mapping.ResultMap, combinedKey *rowkey.Key, prefix string, partial any, anc *ancestors) (any, error) {
	if partial != nil {
		meta, err := reflectx.Of(partial)
		if err != nil {
			return partial, nil
		}
		anc.push(rm.ID, partial)
		_, err = h.applyNestedResultMappings(w, rm, meta, prefix, combinedKey, false, anc)
		anc.pop(rm.ID)
		return partial, err
	}

	b, err := h.buildObject(w, rm, prefix, true)
	if err != nil {
		return nil, err
	}
	if b.meta != nil {
		anc.push(rm.ID, b.obj)
		found, err := h.applyNestedResultMappings(w, rm, b.meta, prefix, combinedKey, true, anc)
		anc.pop(rm.ID)
		if err != nil {
			return nil, err
		}
		b.found = found || b.found
	}
	obj := b.result(h.settings.ReturnInstanceForEmptyRow)
	h.pool.Put(combinedKey, obj)
	return obj, nil
}

// applyNestedResultMappings links the nested objects of the current row into meta.
// newObject reports whether meta's object was created for this row.
func (h *Handler) applyNestedResultMappings(w *rowsource.Wrapper, rm *mapping.ResultMap, meta *reflectx.Meta, parentPrefix string, parentKey *rowkey.Key, newObject bool, anc *ancestors) (bool, error) {
	found := false
	for _, b := range rm.PropertyBindings() {
		if b.NestedResultMapID == "" || b.ResultSet != "" {
			continue
		}
		columnPrefix := joinPrefix(parentPrefix, b.ColumnPrefix)
		declared, err := h.registry.Lookup(b.NestedResultMapID)
		if err != nil {
			return false, err
		}
		nested, err := h.ResolveEffectiveMapping(w, declared, columnPrefix)
		if err != nil {
			return false, err
		}
		if b.ColumnPrefix == "" {
			if ancestor, ok := anc.lookup(b.NestedResultMapID); ok {
				if newObject {
					if err := h.linkObjects(rm, meta, b, ancestor); err != nil {
						return false, err
					}
				}
				continue
			}
		}
		rowKey := h.createRowKey(w, nested, columnPrefix)
		combined := rowkey.Combine(rowKey, parentKey)
		rowValue, _ := h.pool.Get(combined)
		known := rowValue != nil
		if _, err := h.instantiateCollectionProperty(rm, meta, b); err != nil {
			return false, err
		}
		if !anyNotNullColumnHasValue(w, b, columnPrefix) {
			continue
		}
		if rowValue, err = h.getNestedRowValue(w, nested, combined, columnPrefix, rowValue, anc); err != nil {
			return false, err
		}
		if rowValue != nil && !known {
			if err := h.linkObjects(rm, meta, b, rowValue); err != nil {
				return false, err
			}
			found = true
			if combined.IsNull() && nested.HasNestedResultMaps() {
				h.noteDegenerateKey(nested)
			}
		}
	}
	return found, nil
}

// anyNotNullColumnHasValue reports whether the row carries a nested object for b. The
// declared not-null columns decide when present; otherwise a prefixed binding needs at
// least one non-null column under its prefix.
func anyNotNullColumnHasValue(w *rowsource.Wrapper, b *mapping.Binding, prefix string) bool {
	if len(b.NotNullColumns) > 0 {
		for _, column := range b.NotNullColumns {
			if v, ok := w.Raw(prefix + column); ok && v != nil {
				return true
			}
		}
		return false
	}
	if prefix != "" {
		for _, name := range w.ColumnNames() {
			if !strings.HasPrefix(strings.ToUpper(name), prefix) {
				continue
			}
			if v, ok := w.Raw(name); ok && v != nil {
				return true
			}
		}
		return false
	}
	return true
}

// createRowKey identifies the current row for rm. Id bindings contribute when declared,
// all bindings otherwise; result maps without bindings use every column for map types and
// the columns matching a property for other types. Keys with fewer than two
// contributions are rowkey.Null.
func (h *Handler) createRowKey(w *rowsource.Wrapper, rm *mapping.ResultMap, prefix string) *rowkey.Key {
	key := rowkey.New()
	key.Update(rm.ID)
	bindings := rm.IDBindings()
	switch {
	case len(bindings) > 0:
		h.rowKeyForMappedProperties(w, rm, key, bindings, prefix)
	case isMapType(rm.Type):
		rowKeyForMap(w, key)
	default:
		h.rowKeyForUnmappedProperties(w, rm, key, prefix)
	}
	if key.Count() < 2 {
		return rowkey.Null
	}
	return key
}

func (h *Handler) rowKeyForMappedProperties(w *rowsource.Wrapper, rm *mapping.ResultMap, key *rowkey.Key, bindings []*mapping.Binding, prefix string) {
	for _, b := range bindings {
		switch {
		case b.NestedResultMapID != "" && b.ResultSet == "":
			if nested, ok := h.registry.Get(b.NestedResultMapID); ok {
				h.rowKeyForMappedProperties(w, nested, key, nested.ConstructorBindings(), joinPrefix(prefix, b.ColumnPrefix))
			}
		case b.NestedQueryID == "" && b.Column != "":
			column := prefix + b.Column
			if !w.IsMapped(rm, prefix, column) {
				continue
			}
			if v, ok := w.Raw(column); ok && v != nil {
				key.Update(strings.ToUpper(column))
				key.Update(keyValue(v))
			}
		}
	}
}

func (h *Handler) rowKeyForUnmappedProperties(w *rowsource.Wrapper, rm *mapping.ResultMap, key *rowkey.Key, prefix string) {
	for _, column := range w.UnmappedColumns(rm, prefix) {
		name := column
		if prefix != "" {
			if !strings.HasPrefix(strings.ToUpper(column), prefix) {
				continue
			}
			name = column[len(prefix):]
		}
		if _, ok := reflectx.FindPropertyIn(rm.Type, name, h.settings.MapUnderscoreToCamelCase); !ok {
			continue
		}
		if v, ok := w.Raw(column); ok && v != nil {
			key.Update(strings.ToUpper(column))
			key.Update(keyValue(v))
		}
	}
}

func rowKeyForMap(w *rowsource.Wrapper, key *rowkey.Key) {
	for _, column := range w.ColumnNames() {
		if v, ok := w.Raw(column); ok && v != nil {
			key.Update(strings.ToUpper(column))
			key.Update(keyValue(v))
		}
	}
}

// keyValue normalizes driver values so that text arriving as bytes keys like a string.
func keyValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func isMapType(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Map || t.Kind() == reflect.Interface
}

// instantiateCollectionProperty creates the empty collection of a nested binding on
// first use and reports whether the property holds a collection.
func (h *Handler) instantiateCollectionProperty(rm *mapping.ResultMap, meta *reflectx.Meta, b *mapping.Binding) (bool, error) {
	current, err := meta.Get(b.Property)
	if err != nil {
		return false, maperr.Configuration(rm.ID, "cannot read property %q: %v", b.Property, err)
	}
	if !isNilValue(current) {
		return h.factory.IsCollection(reflect.TypeOf(current)), nil
	}
	t := b.GoType
	if t == nil {
		t, _ = meta.SetterType(b.Property)
	}
	if t == nil || !h.factory.IsCollection(t) {
		return false, nil
	}
	collection, err := h.factory.Create(t)
	if err != nil {
		return false, maperr.Instantiation(rm.ID, err)
	}
	if err := meta.Set(b.Property, collection); err != nil {
		return false, maperr.Conversion(rm.ID, "", b.Property, err)
	}
	return true, nil
}

// linkObjects appends value to a collection property or assigns a singular one.
func (h *Handler) linkObjects(rm *mapping.ResultMap, meta *reflectx.Meta, b *mapping.Binding, value any) error {
	isCollection, err := h.instantiateCollectionProperty(rm, meta, b)
	if err != nil {
		return err
	}
	if isCollection {
		if err := meta.Append(b.Property, value); err != nil {
			return maperr.Conversion(rm.ID, "", b.Property, err)
		}
		return nil
	}
	if err := AssignProperty(meta, b.Property, value); err != nil {
		return maperr.Conversion(rm.ID, "", b.Property, err)
	}
	return nil
}

func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

// noteDegenerateKey reports a result map with nested result maps whose rows carry no
// identity. Such rows are never merged, so one-to-many flattening cannot work for them.
func (h *Handler) noteDegenerateKey(rm *mapping.ResultMap) {
	h.metrics.RecordDegenerateKey(h.ctx, rm.ID)
	if !h.settings.WarnDegenerateKeys {
		return
	}
	if _, warned := h.warnedDegenerate[rm.ID]; warned {
		return
	}
	h.warnedDegenerate[rm.ID] = struct{}{}
	h.logger.Warn("result map produced a row without identity; rows will not be merged",
		"statement_id", h.stmt.ID,
		"result_map", rm.ID)
}
