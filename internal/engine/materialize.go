package engine

import (
	"fmt"
	"reflect"
	"strings"

	"resultmap/internal/maperr"
	"resultmap/internal/mapping"
	"resultmap/internal/reflectx"
	"resultmap/internal/rowsource"
	"resultmap/internal/sqltype"
	"resultmap/internal/typeconv"
)

type autoMapping struct {
	column    string
	property  string
	converter typeconv.Converter
	nillable  bool
}

// building is an object under construction for one row.
type building struct {
	obj   any
	meta  *reflectx.Meta
	found bool
	lazy  int
}

// result applies the empty-row rule: an object to which no row value was assigned is absent.
func (b *building) result(returnInstanceForEmptyRow bool) any {
	if b.meta == nil || b.found || b.lazy > 0 || returnInstanceForEmptyRow {
		return b.obj
	}
	return nil
}

// getRowValue maps the current row with a result map that has no nested result maps.
func (h *Handler) getRowValue(w *rowsource.Wrapper, rm *mapping.ResultMap, prefix string) (any, error) {
	b, err := h.buildObject(w, rm, prefix, false)
	if err != nil {
		return nil, err
	}
	return b.result(h.settings.ReturnInstanceForEmptyRow), nil
}

// buildObject creates the object for the current row and applies automatic and
// explicit property mappings. Nested result maps are not applied.
func (h *Handler) buildObject(w *rowsource.Wrapper, rm *mapping.ResultMap, prefix string, nested bool) (*building, error) {
	b := &building{}
	obj, usedConstructor, err := h.createResultObject(w, rm, prefix)
	if err != nil {
		return nil, err
	}
	b.obj = obj
	if obj == nil || h.converters.IsScalar(rm.Type) {
		return b, nil
	}
	meta, err := reflectx.Of(obj)
	if err != nil {
		return b, nil
	}
	b.meta = meta
	b.found = usedConstructor
	if h.shouldApplyAutomaticMappings(rm, nested) {
		found, err := h.applyAutomaticMappings(w, rm, meta, prefix)
		if err != nil {
			return nil, err
		}
		b.found = found || b.found
	}
	found, err := h.applyPropertyMappings(w, rm, meta, prefix, &b.lazy)
	if err != nil {
		return nil, err
	}
	b.found = found || b.found
	return b, nil
}

func (h *Handler) shouldApplyAutomaticMappings(rm *mapping.ResultMap, nested bool) bool {
	switch rm.AutoMapping {
	case mapping.AutoMappingAlways:
		return true
	case mapping.AutoMappingNever:
		return false
	}
	if nested {
		return h.settings.AutoMapping == AutoMappingFull
	}
	return h.settings.AutoMapping != AutoMappingNone
}

// createResultObject instantiates the object for rm. The boolean reports whether a
// constructor received row values.
func (h *Handler) createResultObject(w *rowsource.Wrapper, rm *mapping.ResultMap, prefix string) (any, bool, error) {
	t := rm.Type
	if h.converters.IsScalar(t) {
		v, err := h.createPrimitiveResultObject(w, rm, prefix)
		return v, false, err
	}
	if ctorBindings := rm.ConstructorBindings(); len(ctorBindings) > 0 {
		return h.createParameterizedResultObject(w, rm, ctorBindings, prefix)
	}
	if t.Kind() == reflect.Interface || h.factory.HasDefaultConstructor(t) {
		obj, err := h.factory.Create(t)
		if err != nil {
			return nil, false, maperr.Instantiation(rm.ID, err)
		}
		return obj, false, nil
	}
	if h.shouldApplyAutomaticMappings(rm, false) {
		return h.createByConstructorSignature(w, rm)
	}
	return nil, false, maperr.Instantiation(rm.ID, fmt.Errorf("do not know how to create an instance of %s", t))
}

func (h *Handler) createPrimitiveResultObject(w *rowsource.Wrapper, rm *mapping.ResultMap, prefix string) (any, error) {
	var (
		column string
		c      typeconv.Converter
	)
	if len(rm.Bindings) > 0 {
		b := &rm.Bindings[0]
		column = prefix + b.Column
		c = h.bindingConverter(w, b, column, rm.Type)
	} else {
		names := w.ColumnNames()
		if len(names) == 0 {
			return nil, nil
		}
		column = names[0]
		c = w.Converter(rm.Type, column, sqltype.Unknown)
	}
	v, err := w.Read(column, c)
	if err != nil {
		return nil, maperr.Conversion(rm.ID, column, "", err)
	}
	return v, nil
}

func (h *Handler) createParameterizedResultObject(w *rowsource.Wrapper, rm *mapping.ResultMap, bindings []*mapping.Binding, prefix string) (any, bool, error) {
	ctor, err := h.selectConstructor(rm, bindings)
	if err != nil {
		return nil, false, err
	}
	params := ctor.Params()
	args := make([]any, len(bindings))
	found := false
	for i, b := range bindings {
		target := b.GoType
		if target == nil {
			target = params[i]
		}
		var v any
		switch {
		case b.NestedQueryID != "":
			v, err = h.getNestedQueryConstructorValue(w, rm, b, target, prefix)
		case b.NestedResultMapID != "":
			var nrm *mapping.ResultMap
			if nrm, err = h.registry.Lookup(b.NestedResultMapID); err == nil {
				v, err = h.getRowValue(w, nrm, joinPrefix(prefix, b.ColumnPrefix))
			}
		default:
			column := prefix + b.Column
			v, err = w.Read(column, h.bindingConverter(w, b, column, target))
			if err != nil {
				err = maperr.Conversion(rm.ID, column, b.Property, err)
			}
		}
		if err != nil {
			return nil, false, err
		}
		found = found || v != nil
		args[i] = v
	}
	if !found {
		return nil, false, nil
	}
	obj, err := ctor.Call(args)
	if err != nil {
		return nil, false, maperr.Instantiation(rm.ID, err)
	}
	return obj, true, nil
}

// selectConstructor picks the first registered constructor whose arity matches the
// constructor bindings and whose parameters accept every declared binding type.
func (h *Handler) selectConstructor(rm *mapping.ResultMap, bindings []*mapping.Binding) (reflectx.Constructor, error) {
	for _, ctor := range h.factory.Constructors(rm.Type) {
		params := ctor.Params()
		if len(params) != len(bindings) {
			continue
		}
		ok := true
		for i, b := range bindings {
			if b.GoType != nil && !b.GoType.AssignableTo(params[i]) && !reflect.PointerTo(b.GoType).AssignableTo(params[i]) {
				ok = false
				break
			}
		}
		if ok {
			return ctor, nil
		}
	}
	return reflectx.Constructor{}, maperr.Instantiation(rm.ID,
		fmt.Errorf("no constructor of %s takes %d matching arguments", rm.Type, len(bindings)))
}

// createByConstructorSignature builds the object with the first registered constructor
// whose parameters match the result set columns in order.
func (h *Handler) createByConstructorSignature(w *rowsource.Wrapper, rm *mapping.ResultMap) (any, bool, error) {
	columns := w.ColumnNames()
	for _, ctor := range h.factory.Constructors(rm.Type) {
		params := ctor.Params()
		if len(params) != len(columns) || !h.columnsFit(w, columns, params) {
			continue
		}
		args := make([]any, len(params))
		found := false
		for i, column := range columns {
			v, err := w.Read(column, w.Converter(params[i], column, sqltype.Unknown))
			if err != nil {
				return nil, false, maperr.Conversion(rm.ID, column, "", err)
			}
			found = found || v != nil
			args[i] = v
		}
		if !found {
			return nil, false, nil
		}
		obj, err := ctor.Call(args)
		if err != nil {
			return nil, false, maperr.Instantiation(rm.ID, err)
		}
		return obj, true, nil
	}
	return nil, false, maperr.Instantiation(rm.ID,
		fmt.Errorf("no default constructor and no constructor of %s matches columns %v", rm.Type, columns))
}

func (h *Handler) columnsFit(w *rowsource.Wrapper, columns []string, params []reflect.Type) bool {
	for i, column := range columns {
		scan := w.ScanType(column)
		if scan == nil {
			if !h.converters.Has(params[i], w.Code(column)) {
				return false
			}
			continue
		}
		if !sameKindClass(scan, params[i]) {
			return false
		}
	}
	return true
}

func sameKindClass(scan, param reflect.Type) bool {
	for param.Kind() == reflect.Pointer {
		param = param.Elem()
	}
	if scan == param {
		return true
	}
	if isNumberKind(scan.Kind()) && isNumberKind(param.Kind()) {
		return true
	}
	return scan.Kind() == param.Kind() && scan.Kind() != reflect.Struct
}

func isNumberKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func (h *Handler) applyAutomaticMappings(w *rowsource.Wrapper, rm *mapping.ResultMap, meta *reflectx.Meta, prefix string) (bool, error) {
	mappings, err := h.automaticMappings(w, rm, meta, prefix)
	if err != nil {
		return false, err
	}
	found := false
	for _, am := range mappings {
		v, err := w.Read(am.column, am.converter)
		if err != nil {
			return false, maperr.Conversion(rm.ID, am.column, am.property, err)
		}
		if v != nil {
			found = true
		}
		if v != nil || (h.settings.CallSettersOnNulls && am.nillable) {
			if err := meta.Set(am.property, v); err != nil {
				return false, maperr.Conversion(rm.ID, am.column, am.property, err)
			}
		}
	}
	return found, nil
}

// automaticMappings pairs the unmapped columns under prefix with settable properties.
// The result is cached per result map and prefix for the current result set.
func (h *Handler) automaticMappings(w *rowsource.Wrapper, rm *mapping.ResultMap, meta *reflectx.Meta, prefix string) ([]autoMapping, error) {
	cacheKey := rm.ID + ":" + prefix
	if cached, ok := h.autoMappings[cacheKey]; ok {
		return cached, nil
	}
	mappings := []autoMapping{}
	for _, column := range w.UnmappedColumns(rm, prefix) {
		name := column
		if prefix != "" {
			if !strings.HasPrefix(strings.ToUpper(column), prefix) {
				continue
			}
			name = column[len(prefix):]
		}
		property, ok := meta.FindProperty(name, h.settings.MapUnderscoreToCamelCase)
		if !ok || !meta.HasSetter(property) {
			if err := h.unknownColumn(rm, column, name); err != nil {
				return nil, err
			}
			continue
		}
		if rm.MapsProperty(property) {
			continue
		}
		propertyType, _ := meta.SetterType(property)
		if propertyType.Kind() != reflect.Interface && !h.converters.Has(propertyType, w.Code(column)) {
			if err := h.unknownColumn(rm, column, property); err != nil {
				return nil, err
			}
			continue
		}
		mappings = append(mappings, autoMapping{
			column:    column,
			property:  property,
			converter: w.Converter(propertyType, column, sqltype.Unknown),
			nillable:  isNillable(propertyType),
		})
	}
	h.autoMappings[cacheKey] = mappings
	return mappings, nil
}

func (h *Handler) unknownColumn(rm *mapping.ResultMap, column, property string) error {
	switch h.settings.UnknownColumns {
	case UnknownColumnWarning:
		h.logger.Warn("unknown column detected",
			"statement_id", h.stmt.ID,
			"result_map", rm.ID,
			"column", column,
			"property", property,
			"property_type", rm.Type.String())
		h.metrics.RecordUnknownColumn(h.ctx, rm.ID)
	case UnknownColumnFailing:
		h.metrics.RecordUnknownColumn(h.ctx, rm.ID)
		return maperr.UnknownColumn(rm.ID, column, property)
	}
	return nil
}

func (h *Handler) applyPropertyMappings(w *rowsource.Wrapper, rm *mapping.ResultMap, meta *reflectx.Meta, prefix string, lazy *int) (bool, error) {
	found := false
	for _, b := range rm.PropertyBindings() {
		if b.NestedResultMapID != "" && b.ResultSet == "" {
			continue
		}
		column := prefix + b.Column
		if !b.IsComposite() && b.ResultSet == "" && (b.Column == "" || !w.IsMapped(rm, prefix, column)) {
			continue
		}
		value, deferred, err := h.getPropertyMappingValue(w, rm, meta, b, prefix, lazy)
		if err != nil {
			return false, err
		}
		if b.Property == "" {
			continue
		}
		if deferred {
			found = true
			continue
		}
		if value != nil {
			found = true
		}
		if value != nil || (h.settings.CallSettersOnNulls && h.nillableProperty(meta, b.Property)) {
			if err := AssignProperty(meta, b.Property, value); err != nil {
				return false, maperr.Conversion(rm.ID, column, b.Property, err)
			}
		}
	}
	return found, nil
}

// getPropertyMappingValue reads the value of one binding. deferred reports that the
// value will be supplied later by a sub-query, a lazy loader or a secondary result set.
func (h *Handler) getPropertyMappingValue(w *rowsource.Wrapper, rm *mapping.ResultMap, meta *reflectx.Meta, b *mapping.Binding, prefix string, lazy *int) (value any, deferred bool, err error) {
	switch {
	case b.NestedQueryID != "":
		return h.getNestedQueryMappingValue(w, rm, meta, b, prefix, lazy)
	case b.ResultSet != "":
		return nil, true, h.addPendingChildRelation(w, rm, meta, b)
	}
	column := prefix + b.Column
	target := b.GoType
	if target == nil {
		target, _ = meta.SetterType(b.Property)
	}
	value, err = w.Read(column, h.bindingConverter(w, b, column, target))
	if err != nil {
		return nil, false, maperr.Conversion(rm.ID, column, b.Property, err)
	}
	return value, false, nil
}

func (h *Handler) bindingConverter(w *rowsource.Wrapper, b *mapping.Binding, column string, target reflect.Type) typeconv.Converter {
	if b.Converter != nil {
		return b.Converter
	}
	return w.Converter(target, column, b.TypeCode)
}

func (h *Handler) nillableProperty(meta *reflectx.Meta, property string) bool {
	t, ok := meta.SetterType(property)
	return ok && isNillable(t)
}

func isNillable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

// joinPrefix appends a binding's column prefix to its parent's. Prefixes are upper case.
func joinPrefix(parent, prefix string) string {
	return strings.ToUpper(parent + prefix)
}
