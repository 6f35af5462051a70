// Package typeconv converts raw column values into Go property types.
//
// Converters are registered per (target type, column code). A converter registered
// with sqltype.Unknown is the default for its target type.
package typeconv

import (
	"database/sql"
	"fmt"
	"reflect"
	"sync"

	"resultmap/internal/sqltype"
)

// Converter turns a raw cursor value into a value of its target type.
// A nil source converts to nil.
type Converter interface {
	Convert(src any) (any, error)
}

// ConverterFunc adapts a function to the Converter interface.
type ConverterFunc func(src any) (any, error)

// Convert calls f(src).
func (f ConverterFunc) Convert(src any) (any, error) {
	return f(src)
}

type registryKey struct {
	target reflect.Type
	code   sqltype.Code
}

// Registry holds converters keyed by target type and column code.
type Registry struct {
	mu        sync.RWMutex
	exact     map[registryKey]Converter
	fallbacks map[registryKey]Converter
	unknown   Converter
}

// NewRegistry returns a registry pre-populated with the builtin converters.
func NewRegistry() *Registry {
	r := &Registry{
		exact:     make(map[registryKey]Converter),
		fallbacks: make(map[registryKey]Converter),
		unknown:   ConverterFunc(passthrough),
	}
	registerBuiltins(r)
	return r
}

// Register adds a converter for target and code. Use sqltype.Unknown to register
// the default converter for target.
func (r *Registry) Register(target reflect.Type, code sqltype.Code, c Converter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exact[registryKey{target: target, code: code}] = c
	// Derived converters of other targets may wrap the replaced one.
	clear(r.fallbacks)
}

// Lookup finds the converter for target and code: the exact registration, then the
// target's default, then a converter derived from the target's kind or sql.Scanner support.
func (r *Registry) Lookup(target reflect.Type, code sqltype.Code) (Converter, bool) {
	if target == nil {
		return nil, false
	}
	r.mu.RLock()
	if c, ok := r.exact[registryKey{target: target, code: code}]; ok {
		r.mu.RUnlock()
		return c, true
	}
	if c, ok := r.exact[registryKey{target: target, code: sqltype.Unknown}]; ok {
		r.mu.RUnlock()
		return c, true
	}
	derived := registryKey{target: target, code: code}
	if c, ok := r.fallbacks[derived]; ok {
		r.mu.RUnlock()
		return c, c != nil
	}
	r.mu.RUnlock()

	c := r.derive(target, code)
	r.mu.Lock()
	r.fallbacks[derived] = c
	r.mu.Unlock()
	return c, c != nil
}

// Has reports whether a converter exists for target and code.
func (r *Registry) Has(target reflect.Type, code sqltype.Code) bool {
	_, ok := r.Lookup(target, code)
	return ok
}

// HasType reports whether target has a converter for any column code.
func (r *Registry) HasType(target reflect.Type) bool {
	return r.Has(target, sqltype.Unknown)
}

// IsScalar reports whether values of target are produced by a single converter
// rather than assembled from properties.
func (r *Registry) IsScalar(target reflect.Type) bool {
	if target == nil || target.Kind() == reflect.Interface {
		return false
	}
	return r.HasType(target)
}

// Unknown returns the generic converter used when nothing more specific applies.
func (r *Registry) Unknown() Converter {
	return r.unknown
}

var scannerType = reflect.TypeFor[sql.Scanner]()

func (r *Registry) derive(target reflect.Type, code sqltype.Code) Converter {
	if reflect.PointerTo(target).Implements(scannerType) {
		return scannerConverter(target)
	}
	if target.Kind() == reflect.Pointer {
		elem, ok := r.Lookup(target.Elem(), code)
		if !ok {
			return nil
		}
		return pointerConverter(target, elem)
	}
	base := baseTypeForKind(target.Kind())
	if base == nil || base == target {
		return nil
	}
	inner, ok := r.Lookup(base, code)
	if !ok {
		return nil
	}
	return ConverterFunc(func(src any) (any, error) {
		v, err := inner.Convert(src)
		if err != nil || v == nil {
			return v, err
		}
		return reflect.ValueOf(v).Convert(target).Interface(), nil
	})
}

func baseTypeForKind(kind reflect.Kind) reflect.Type {
	switch kind {
	case reflect.String:
		return reflect.TypeFor[string]()
	case reflect.Bool:
		return reflect.TypeFor[bool]()
	case reflect.Int:
		return reflect.TypeFor[int]()
	case reflect.Int8:
		return reflect.TypeFor[int8]()
	case reflect.Int16:
		return reflect.TypeFor[int16]()
	case reflect.Int32:
		return reflect.TypeFor[int32]()
	case reflect.Int64:
		return reflect.TypeFor[int64]()
	case reflect.Uint:
		return reflect.TypeFor[uint]()
	case reflect.Uint8:
		return reflect.TypeFor[uint8]()
	case reflect.Uint16:
		return reflect.TypeFor[uint16]()
	case reflect.Uint32:
		return reflect.TypeFor[uint32]()
	case reflect.Uint64:
		return reflect.TypeFor[uint64]()
	case reflect.Float32:
		return reflect.TypeFor[float32]()
	case reflect.Float64:
		return reflect.TypeFor[float64]()
	default:
		return nil
	}
}

func scannerConverter(target reflect.Type) Converter {
	return ConverterFunc(func(src any) (any, error) {
		if src == nil {
			return nil, nil
		}
		ptr := reflect.New(target)
		if err := ptr.Interface().(sql.Scanner).Scan(src); err != nil {
			return nil, fmt.Errorf("cannot convert %T to %s: %w", src, target, err)
		}
		return ptr.Elem().Interface(), nil
	})
}

func pointerConverter(target reflect.Type, elem Converter) Converter {
	return ConverterFunc(func(src any) (any, error) {
		v, err := elem.Convert(src)
		if err != nil || v == nil {
			return nil, err
		}
		ptr := reflect.New(target.Elem())
		ptr.Elem().Set(reflect.ValueOf(v))
		return ptr.Interface(), nil
	})
}

// passthrough copies byte slices, which drivers may reuse between rows.
func passthrough(src any) (any, error) {
	switch v := src.(type) {
	case sql.RawBytes:
		return append([]byte(nil), v...), nil
	case []byte:
		return append([]byte(nil), v...), nil
	}
	return src, nil
}
