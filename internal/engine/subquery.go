package engine

import (
	"context"
	"fmt"
	"reflect"

	"resultmap/internal/lazy"
	"resultmap/internal/maperr"
	"resultmap/internal/mapping"
	"resultmap/internal/reflectx"
	"resultmap/internal/rowkey"
	"resultmap/internal/rowsource"
)

// SubQueryExecutor runs the nested queries referenced by bindings.
type SubQueryExecutor interface {
	// ParameterType returns the declared parameter type of a query, or nil when
	// composite parameters should be passed as map[string]any.
	ParameterType(queryID string) (reflect.Type, error)
	// CacheKey identifies an execution of queryID with param.
	CacheKey(queryID string, param any) (*rowkey.Key, error)
	// IsCached reports whether the result for key is cached or being loaded.
	IsCached(queryID string, key *rowkey.Key) bool
	// DeferLoad assigns the cached result for key to property once it is available.
	DeferLoad(queryID string, meta *reflectx.Meta, property string, key *rowkey.Key, targetType reflect.Type) error
	// Load runs queryID and shapes its results for targetType.
	Load(ctx context.Context, queryID string, param any, targetType reflect.Type) (any, error)
}

var deferrableType = reflect.TypeFor[lazy.Deferrable]()

// getNestedQueryMappingValue resolves a property bound to a sub-query. The property is
// left unset when the parameter is absent.
func (h *Handler) getNestedQueryMappingValue(w *rowsource.Wrapper, rm *mapping.ResultMap, meta *reflectx.Meta, b *mapping.Binding, prefix string, lazyCount *int) (any, bool, error) {
	exec, err := h.requireExecutor(rm, b)
	if err != nil {
		return nil, false, err
	}
	param, err := h.prepareParameterForNestedQuery(w, rm, b, prefix)
	if err != nil || param == nil {
		return nil, false, err
	}
	key, err := exec.CacheKey(b.NestedQueryID, param)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build cache key for %s: %w", b.NestedQueryID, err)
	}
	target := nestedQueryTarget(meta, b)

	if exec.IsCached(b.NestedQueryID, key) {
		h.metrics.RecordCacheLookup(h.ctx, b.NestedQueryID, true)
		h.logger.Debug("deferring load of cached sub-query",
			"statement_id", h.stmt.ID,
			"query", b.NestedQueryID,
			"property", b.Property)
		if err := exec.DeferLoad(b.NestedQueryID, meta, b.Property, key, target); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}
	h.metrics.RecordCacheLookup(h.ctx, b.NestedQueryID, false)

	if b.Lazy(h.settings.LazyLoadingEnabled) {
		if holder, ok := newDeferrable(meta, b.Property); ok {
			queryID := b.NestedQueryID
			ctx := context.WithoutCancel(h.ctx)
			metrics := h.metrics
			holder.SetLoader(func() (any, error) {
				metrics.RecordLazyLoad(ctx, queryID)
				return exec.Load(ctx, queryID, param, holder.TargetType())
			})
			if err := meta.Set(b.Property, holder); err != nil {
				return nil, false, maperr.Conversion(rm.ID, b.Column, b.Property, err)
			}
			*lazyCount++
			h.metrics.RecordSubQuery(h.ctx, b.NestedQueryID, "lazy")
			return nil, true, nil
		}
		h.logger.Debug("property cannot hold a lazy value, loading eagerly",
			"statement_id", h.stmt.ID,
			"result_map", rm.ID,
			"property", b.Property)
	}

	h.metrics.RecordSubQuery(h.ctx, b.NestedQueryID, "eager")
	value, err := exec.Load(h.ctx, b.NestedQueryID, param, target)
	if err != nil {
		return nil, false, fmt.Errorf("nested query %s for %s.%s failed: %w", b.NestedQueryID, rm.ID, b.Property, err)
	}
	return value, false, nil
}

// getNestedQueryConstructorValue runs a sub-query for a constructor argument. Constructor
// arguments are always loaded eagerly.
func (h *Handler) getNestedQueryConstructorValue(w *rowsource.Wrapper, rm *mapping.ResultMap, b *mapping.Binding, target reflect.Type, prefix string) (any, error) {
	exec, err := h.requireExecutor(rm, b)
	if err != nil {
		return nil, err
	}
	param, err := h.prepareParameterForNestedQuery(w, rm, b, prefix)
	if err != nil || param == nil {
		return nil, err
	}
	h.metrics.RecordSubQuery(h.ctx, b.NestedQueryID, "eager")
	value, err := exec.Load(h.ctx, b.NestedQueryID, param, target)
	if err != nil {
		return nil, fmt.Errorf("nested query %s for constructor of %s failed: %w", b.NestedQueryID, rm.ID, err)
	}
	return value, nil
}

func (h *Handler) requireExecutor(rm *mapping.ResultMap, b *mapping.Binding) (SubQueryExecutor, error) {
	if h.executor == nil {
		return nil, maperr.Configuration(rm.ID, "property %q uses nested query %q but no sub-query executor is configured", b.Property, b.NestedQueryID)
	}
	return h.executor, nil
}

func (h *Handler) prepareParameterForNestedQuery(w *rowsource.Wrapper, rm *mapping.ResultMap, b *mapping.Binding, prefix string) (any, error) {
	paramType, err := h.executor.ParameterType(b.NestedQueryID)
	if err != nil {
		return nil, err
	}
	if b.IsComposite() {
		return h.prepareCompositeKeyParameter(w, rm, b, paramType, prefix)
	}
	column := prefix + b.Column
	target := paramType
	if target == nil {
		target = b.GoType
	}
	value, err := w.Read(column, w.Converter(target, column, b.TypeCode))
	if err != nil {
		return nil, maperr.Conversion(rm.ID, column, b.Property, err)
	}
	return value, nil
}

// prepareCompositeKeyParameter fills the parameter object from the composite columns.
// A null component makes the whole parameter absent.
func (h *Handler) prepareCompositeKeyParameter(w *rowsource.Wrapper, rm *mapping.ResultMap, b *mapping.Binding, paramType reflect.Type, prefix string) (any, error) {
	var param any = map[string]any{}
	if paramType != nil && paramType.Kind() != reflect.Interface && paramType.Kind() != reflect.Map {
		obj, err := h.factory.Create(paramType)
		if err != nil {
			return nil, maperr.Instantiation(rm.ID, fmt.Errorf("parameter of %s: %w", b.NestedQueryID, err))
		}
		param = obj
	}
	meta, err := reflectx.Of(param)
	if err != nil {
		return nil, maperr.Instantiation(rm.ID, err)
	}
	for i := range b.Composites {
		c := &b.Composites[i]
		column := prefix + c.Column
		target := c.GoType
		if target == nil {
			target, _ = meta.SetterType(c.Property)
		}
		value, err := w.Read(column, w.Converter(target, column, c.TypeCode))
		if err != nil {
			return nil, maperr.Conversion(rm.ID, column, c.Property, err)
		}
		if value == nil {
			return nil, nil
		}
		if err := meta.Set(c.Property, value); err != nil {
			return nil, maperr.Conversion(rm.ID, column, c.Property, err)
		}
	}
	return param, nil
}

// nestedQueryTarget returns the type a sub-query result must be shaped into.
func nestedQueryTarget(meta *reflectx.Meta, b *mapping.Binding) reflect.Type {
	if b.GoType != nil {
		return b.GoType
	}
	t, ok := meta.SetterType(b.Property)
	if !ok {
		return nil
	}
	if t.Implements(deferrableType) && t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem()).Interface().(lazy.Deferrable).TargetType()
	}
	return t
}

// newDeferrable creates an empty lazy holder for a property declared as *lazy.Value[T].
func newDeferrable(meta *reflectx.Meta, property string) (lazy.Deferrable, bool) {
	t, ok := meta.SetterType(property)
	if !ok || t.Kind() != reflect.Pointer || !t.Implements(deferrableType) {
		return nil, false
	}
	return reflect.New(t.Elem()).Interface().(lazy.Deferrable), true
}

// AssignProperty sets property to value. A property declared as *lazy.Value[T]
// receives a realized holder unless value already is one.
func AssignProperty(meta *reflectx.Meta, property string, value any) error {
	if value != nil {
		if _, isHolder := value.(lazy.Deferrable); !isHolder {
			if holder, ok := newDeferrable(meta, property); ok {
				payload := value
				holder.SetLoader(func() (any, error) { return payload, nil })
				value = holder
			}
		}
	}
	return meta.Set(property, value)
}

// ExtractResult shapes the objects of a sub-query for targetType: a slice type receives
// every object, an untyped target receives []any, and any other type receives the single
// object or nil. More than one object for a singular target is an error.
func ExtractResult(objects []any, targetType reflect.Type) (any, error) {
	if targetType == nil || targetType.Kind() == reflect.Interface {
		return append([]any{}, objects...), nil
	}
	if reflectx.IsCollectionType(targetType) {
		out := reflect.MakeSlice(targetType, 0, len(objects))
		for i, obj := range objects {
			v, err := reflectx.Convert(obj, targetType.Elem())
			if err != nil {
				return nil, fmt.Errorf("result %d: %w", i, err)
			}
			out = reflect.Append(out, v)
		}
		return out.Interface(), nil
	}
	switch len(objects) {
	case 0:
		return nil, nil
	case 1:
		return objects[0], nil
	}
	return nil, fmt.Errorf("expected one result (or nil) to be returned, but found %d", len(objects))
}
